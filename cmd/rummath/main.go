// cmd/rummath/main.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jyseo/rummath/internal/game"
	"github.com/jyseo/rummath/internal/models"
	"github.com/jyseo/rummath/internal/peer"
	"github.com/jyseo/rummath/internal/protocol"
)

type config struct {
	relayURL string
	name     string
	verbose  bool
}

func newRootCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RUMMATH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "rummath",
		Short:         "Build equations, hit the target, empty a hand.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	pf.StringVar(&cfg.relayURL, "relay", "ws://127.0.0.1:8080/ws", "relay websocket URL (env: RUMMATH_RELAY)")
	pf.StringVarP(&cfg.name, "name", "n", "", "display name (env: RUMMATH_NAME)")
	pf.BoolVarP(&cfg.verbose, "verbose", "v", false, "enable debug logging (env: RUMMATH_VERBOSE)")

	pf.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = pf.Set(f.Name, v.GetString(f.Name))
		}
	})

	hostCmd := &cobra.Command{
		Use:   "host [code]",
		Short: "Create a session and wait for players",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposed := ""
			if len(args) == 1 {
				proposed = strings.ToUpper(args[0])
			}
			return runPeer(cmd, cfg, proposed, true)
		},
	}
	joinCmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a session by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(cmd, cfg, strings.ToUpper(args[0]), false)
		},
	}
	root.AddCommand(hostCmd, joinCmd)
	return root
}

func runPeer(cmd *cobra.Command, cfg *config, code string, isHost bool) error {
	if cfg.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if cfg.name == "" {
		return fmt.Errorf("a display name is required (--name)")
	}

	manager := peer.NewManager(cfg.name)
	defer manager.Close()

	state := game.NewState(game.DefaultSettings())
	localPlayer := 0
	if !isHost {
		localPlayer = -1 // adopted from the host's snapshot
	}
	session := game.NewGameSession(state, localPlayer, cfg.name, isHost)
	session.BroadcastFn = manager.Broadcast
	session.SendToPlayerFn = func(playerName string, msg protocol.Message) {
		go func() {
			if err := manager.Send(playerName, msg); err != nil {
				logrus.Warnf("send to %s failed: %v", playerName, err)
			}
		}()
	}
	manager.OnGameMessage = func(msg protocol.Message) {
		if err := session.HandleMessage(msg); err != nil {
			logrus.Warnf("bad message from %s: %v", msg.From, err)
		}
	}
	manager.OnRosterChange = func(players []string) {
		fmt.Printf("players: %s\n", strings.Join(players, ", "))
	}
	manager.OnSessionEnded = func(reason string) {
		fmt.Printf("session ended: %s\n", reason)
		os.Exit(0)
	}

	if err := manager.Connect(cmd.Context(), cfg.relayURL); err != nil {
		return err
	}
	if isHost {
		created, err := manager.CreateSession(code)
		if err != nil {
			return err
		}
		fmt.Printf("session code: %s\n", created)
	} else {
		players, err := manager.Join(code)
		if err != nil {
			return err
		}
		fmt.Printf("joined %s with: %s\n", code, strings.Join(players, ", "))
	}

	repl(session, manager)
	return nil
}

func repl(session *game.GameSession, manager *peer.Manager) {
	fmt.Println(`commands: start status stage <i> use <i> unstage <i> joker <i> <op> draw <num|op> submit pass ready quit`)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "start":
			err = session.StartGame(manager.Roster())
		case "status":
			printStatus(session)
		case "stage":
			err = stageCard(session, fields, protocol.ContainerHand)
		case "use":
			err = stageCard(session, fields, protocol.ContainerEquation)
		case "unstage":
			err = unstageCard(session, fields)
		case "joker":
			err = bindJoker(session, fields)
		case "draw":
			err = drawCard(session, fields)
		case "submit":
			err = session.SubmitExpression()
		case "pass":
			err = session.PassTurn()
		case "ready":
			session.SetReady(true)
		case "quit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
		if err != nil {
			fmt.Println("error:", err)
		}
		if winner := session.Winner(); winner != nil {
			fmt.Printf("%s wins!\n", winner.Name)
			return
		}
	}
}

func parseIndex(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing card index")
	}
	i, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("bad card index %q", fields[1])
	}
	return i, nil
}

// stageCard moves the i-th card of the local hand (or of the field) into the
// expression.
func stageCard(session *game.GameSession, fields []string, source string) error {
	i, err := parseIndex(fields)
	if err != nil {
		return err
	}
	session.Mu.Lock()
	var pool []*models.Card
	if source == protocol.ContainerHand {
		if p := session.State.PlayerByID(session.LocalPlayer); p != nil {
			pool = append(append([]*models.Card{}, p.NumberCards...), p.OperatorCards...)
		}
	} else {
		pool = session.State.AvailableFieldCards()
	}
	if i < 0 || i >= len(pool) {
		session.Mu.Unlock()
		return fmt.Errorf("no card at index %d", i)
	}
	id := pool[i].ID
	session.Mu.Unlock()
	return session.MoveCard(source, protocol.ContainerExpression, id, -1)
}

func unstageCard(session *game.GameSession, fields []string) error {
	i, err := parseIndex(fields)
	if err != nil {
		return err
	}
	session.Mu.Lock()
	area := session.Expressions[session.LocalPlayer]
	if area == nil || i < 0 || i >= len(area.Cards) {
		session.Mu.Unlock()
		return fmt.Errorf("no staged card at index %d", i)
	}
	id := area.Cards[i].ID
	session.Mu.Unlock()
	return session.MoveCard(protocol.ContainerExpression, protocol.ContainerHand, id, -1)
}

func bindJoker(session *game.GameSession, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("usage: joker <i> <+|-|×|÷>")
	}
	i, err := parseIndex(fields)
	if err != nil {
		return err
	}
	session.Mu.Lock()
	area := session.Expressions[session.LocalPlayer]
	if area == nil || i < 0 || i >= len(area.Cards) {
		session.Mu.Unlock()
		return fmt.Errorf("no staged card at index %d", i)
	}
	id := area.Cards[i].ID
	session.Mu.Unlock()
	op := models.Operator(fields[2])
	switch fields[2] {
	case "*", "x":
		op = models.OpMultiply
	case "/":
		op = models.OpDivide
	}
	return session.BindJoker(id, op)
}

func drawCard(session *game.GameSession, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: draw <num|op>")
	}
	kind := models.CardNumber
	if strings.HasPrefix(fields[1], "op") {
		kind = models.CardOperator
	}
	return session.DrawCard(kind)
}

func printStatus(session *game.GameSession) {
	session.Mu.Lock()
	defer session.Mu.Unlock()

	st := session.State
	fmt.Printf("target: %s  answers: %v\n", cardsString(st.TargetCards), st.PossibleAnswers)
	if cur := st.CurrentPlayerRef(); cur != nil {
		fmt.Printf("turn: %s\n", cur.Name)
	}
	for _, p := range st.Players {
		if p.ID == session.LocalPlayer {
			fmt.Printf("hand: %s | %s\n", cardsString(p.NumberCards), cardsString(p.OperatorCards))
		} else {
			fmt.Printf("%s: %d numbers, %d operators\n", p.Name, len(p.NumberCards), len(p.OperatorCards))
		}
	}
	for i, eq := range st.FieldEquations {
		fmt.Printf("field[%d]: %s\n", i, eq)
	}
	if area := session.Expressions[session.LocalPlayer]; area != nil && len(area.Cards) > 0 {
		fmt.Printf("staged: %s\n", cardsString(area.Cards))
	}
	fmt.Printf("deck: %d cards\n", len(st.RemainingDeck))
}

func cardsString(cards []*models.Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

func main() {
	cfg := &config{}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
