// cmd/relayd/main.go
package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jyseo/rummath/internal/middleware"
	"github.com/jyseo/rummath/internal/relay"
)

type config struct {
	bind    string
	port    int
	maxIdle time.Duration
	verbose bool
}

func (c *config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxIdle <= 0 {
		return errors.New("--max-idle must be positive")
	}
	return nil
}

func newCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RUMMATH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "relayd",
		Short:         "Rendezvous and fallback relay for rummath sessions.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: RUMMATH_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: RUMMATH_PORT)")
	fs.DurationVar(&cfg.maxIdle, "max-idle", 30*time.Minute, "time before idle sessions are ended (env: RUMMATH_MAX_IDLE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "enable debug logging (env: RUMMATH_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, v.GetString(f.Name))
		}
	})

	return cmd
}

func run(cmd *cobra.Command, cfg *config) error {
	logger := logrus.New()
	if cfg.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	srv := relay.NewServer(logger)
	srv.MaxIdle = cfg.maxIdle
	go srv.RunJanitor(cmd.Context())

	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	logger.Infof("relay listening on %s", addr)
	return http.ListenAndServe(addr, middleware.RequestLogger(logger)(srv.Handler()))
}

func main() {
	cfg := &config{}
	if err := newCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
