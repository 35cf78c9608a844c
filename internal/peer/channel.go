// internal/peer/channel.go
package peer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// openTimeout bounds how long a channel may take to report open before the
// relay stays the delivery path for that peer.
const openTimeout = 10 * time.Second

// maxReconnects bounds how often a failed channel is re-dialed before it is
// given up on.
const maxReconnects = 3

// Channel is a direct peer-to-peer websocket. Gameplay traffic prefers it
// over the relay once it reports open.
type Channel struct {
	PeerName string

	mu       sync.Mutex
	conn     *websocket.Conn
	open     bool
	failures int

	log *logrus.Entry
}

// NewChannel returns a closed channel shell for the named peer.
func NewChannel(peerName string) *Channel {
	return &Channel{
		PeerName: peerName,
		log:      logrus.WithFields(logrus.Fields{"component": "peer", "peer": peerName}),
	}
}

// Open reports whether the channel currently has a live connection.
func (c *Channel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// attach adopts a live connection, replacing any previous one.
func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.open = true
	c.failures = 0
	c.mu.Unlock()
	if prev != nil {
		prev.Close(websocket.StatusNormalClosure, "replaced by new connection")
	}
	c.log.Info("direct channel open")
}

// markClosed drops the connection and reports whether a reconnect attempt is
// still within budget.
func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	c.open = false
	c.failures++
	return c.failures <= maxReconnects
}

// Reconnectable reports whether the channel is down and a re-dial is still
// within the reconnect budget.
func (c *Channel) Reconnectable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.open && c.failures <= maxReconnects
}

// Dial connects to a peer's offered endpoint within the open timeout.
func (c *Channel) Dial(ctx context.Context, endpoint, localName string) error {
	dialCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s/peer?name=%s", endpoint, localName)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("dial peer %s at %s: %w", c.PeerName, endpoint, err)
	}
	c.attach(conn)
	return nil
}

// Send writes one message over the direct channel.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("channel to %s is not open", c.PeerName)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.markClosed()
		return fmt.Errorf("send to %s: %w", c.PeerName, err)
	}
	return nil
}

// ReadLoop pumps incoming messages to onMessage until the connection drops.
func (c *Channel) ReadLoop(ctx context.Context, onMessage func(data []byte)) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.log.Debugf("direct channel read ended: %v", err)
			c.markClosed()
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		onMessage(data)
	}
}

// Listener accepts inbound direct channels. Its advertised address is the
// candidate endpoint exchanged through the relay.
type Listener struct {
	srv      *http.Server
	ln       net.Listener
	onAccept func(peerName string, conn *websocket.Conn)
	log      *logrus.Entry
}

// NewListener binds an ephemeral port and starts accepting peer websockets.
func NewListener(onAccept func(peerName string, conn *websocket.Conn)) (*Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind peer listener: %w", err)
	}
	l := &Listener{
		ln:       ln,
		onAccept: onAccept,
		log:      logrus.WithField("component", "peer"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/peer", l.handlePeer)
	l.srv = &http.Server{Handler: mux}
	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.log.Warnf("peer listener stopped: %v", err)
		}
	}()
	l.log.Infof("peer listener on %s", l.Endpoint())
	return l, nil
}

// Endpoint returns the host:port candidates advertise.
func (l *Listener) Endpoint() string {
	return l.ln.Addr().String()
}

func (l *Listener) handlePeer(w http.ResponseWriter, r *http.Request) {
	peerName := r.URL.Query().Get("name")
	if peerName == "" {
		http.Error(w, "missing peer name", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		l.log.Warnf("peer accept error: %v", err)
		return
	}
	l.onAccept(peerName, conn)
}

// Close stops accepting new channels.
func (l *Listener) Close() error {
	return l.srv.Close()
}
