// internal/relay/server.go
package relay

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client is one websocket connection to the relay.
type Client struct {
	ID     uuid.UUID
	Name   string
	Code   string // session the client belongs to, if any
	IsHost bool

	out    chan Envelope
	cancel context.CancelFunc
}

func (c *Client) send(env Envelope) {
	select {
	case c.out <- env:
	default:
		// Slow consumer; drop rather than block the whole relay.
	}
}

func (c *Client) sendError(msg string) {
	c.send(Envelope{Type: TypeError, Error: msg})
}

// Session groups a host and its guests under a session code.
type Session struct {
	Code         string
	Host         *Client
	Guests       map[string]*Client // by player name
	Settings     json.RawMessage
	CreatedAt    time.Time
	LastActivity time.Time
}

func (s *Session) members() []*Client {
	out := make([]*Client, 0, len(s.Guests)+1)
	if s.Host != nil {
		out = append(out, s.Host)
	}
	for _, g := range s.Guests {
		out = append(out, g)
	}
	return out
}

func (s *Session) memberByName(name string) *Client {
	if s.Host != nil && s.Host.Name == name {
		return s.Host
	}
	return s.Guests[name]
}

// Server routes rendezvous and fallback traffic between session members. It
// never inspects the opaque payloads it forwards.
type Server struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clients  map[uuid.UUID]*Client
	rng      *rand.Rand
	log      *logrus.Logger
	started  time.Time

	// MaxIdle is how long a session may sit without traffic before the
	// janitor ends it.
	MaxIdle time.Duration
}

// NewServer builds a relay server.
func NewServer(log *logrus.Logger) *Server {
	return &Server{
		sessions: make(map[string]*Session),
		clients:  make(map[uuid.UUID]*Client),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
		started:  time.Now(),
		MaxIdle:  30 * time.Minute,
	}
}

// Handler returns the HTTP mux exposing the websocket endpoint and the
// status pages.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sessions", s.handleSessions)
	return mux
}

// RunJanitor sweeps idle sessions until the context ends.
func (s *Server) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepIdleSessions()
		}
	}
}

func (s *Server) sweepIdleSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, sess := range s.sessions {
		if time.Since(sess.LastActivity) < s.MaxIdle {
			continue
		}
		s.log.Infof("session %s idle for %s, ending", code, time.Since(sess.LastActivity).Round(time.Second))
		for _, m := range sess.members() {
			m.send(Envelope{Type: TypeSessionEnded, SessionCode: code, Reason: "session idle timeout"})
			m.Code = ""
		}
		delete(s.sessions, code)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.sessions),
		"clients":  len(s.clients),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	type sessionInfo struct {
		Code      string    `json:"code"`
		Players   []string  `json:"players"`
		CreatedAt time.Time `json:"createdAt"`
	}
	s.mu.Lock()
	infos := make([]sessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		names := make([]string, 0, len(sess.Guests)+1)
		for _, m := range sess.members() {
			names = append(names, m.Name)
		}
		infos = append(infos, sessionInfo{Code: sess.Code, Players: names, CreatedAt: sess.CreatedAt})
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warnf("websocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler finished")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, _ := uuid.NewRandom()
	client := &Client{
		ID:     id,
		out:    make(chan Envelope, 32),
		cancel: cancel,
	}
	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()
	s.log.Infof("client %s connected from %s", id, r.RemoteAddr)

	go s.writePump(ctx, conn, client)
	s.readPump(ctx, conn, client)

	s.disconnect(client)
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-client.out:
			data, err := json.Marshal(env)
			if err != nil {
				s.log.Warnf("client %s: marshal outgoing: %v", client.ID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Warnf("client %s: write failed: %v", client.ID, err)
				client.cancel()
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.Infof("client %s closed normally", client.ID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				s.log.Warnf("client %s: read error: %v", client.ID, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			client.sendError("invalid JSON")
			continue
		}
		s.dispatch(client, env)
	}
}

func (s *Server) dispatch(client *Client, env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[client.Code]; ok {
		sess.LastActivity = time.Now()
	}

	switch env.Type {
	case TypeConnect:
		client.Name = env.PlayerName
		client.send(Envelope{Type: TypeConnected, ClientID: client.ID.String(), PlayerName: client.Name})

	case TypeCreateSession:
		s.createSession(client, env)

	case TypeJoinRequest:
		s.joinRequest(client, env)

	case TypeJoinResponse:
		s.joinResponse(client, env)

	case TypeSignal:
		s.forward(client, env, TypeSignal)

	case TypeBroadcast:
		s.broadcast(client, env)

	case TypeReady:
		// Lobby readiness is the host's business; just forward it there.
		sess := s.sessions[client.Code]
		if sess == nil || sess.Host == nil {
			client.sendError("not in a session")
			return
		}
		env.From = client.Name
		sess.Host.send(env)

	case TypePing:
		client.send(Envelope{Type: TypePong})

	default:
		s.log.Warnf("client %s: unknown message type %q", client.ID, env.Type)
		client.sendError("unknown message type: " + env.Type)
	}
}

func (s *Server) createSession(client *Client, env Envelope) {
	if env.PlayerName != "" {
		client.Name = env.PlayerName
	}
	if client.Name == "" {
		client.sendError("create_session requires a player name")
		return
	}
	code := strings.ToUpper(env.SessionCode)
	if code != "" && !ValidSessionCode(code) {
		client.sendError("invalid session code")
		return
	}
	if code == "" {
		code = NewSessionCode(s.rng)
		for s.sessions[code] != nil {
			code = NewSessionCode(s.rng)
		}
	} else if s.sessions[code] != nil {
		client.sendError("session code already in use")
		return
	}
	sess := &Session{
		Code:         code,
		Host:         client,
		Guests:       make(map[string]*Client),
		Settings:     env.Settings,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	s.sessions[code] = sess
	client.Code = code
	client.IsHost = true
	s.log.Infof("session %s created by %s", code, client.Name)
	client.send(Envelope{Type: TypeSessionCreated, SessionCode: code, Settings: sess.Settings})
}

func (s *Server) joinRequest(client *Client, env Envelope) {
	if env.PlayerName != "" {
		client.Name = env.PlayerName
	}
	code := strings.ToUpper(env.SessionCode)
	sess := s.sessions[code]
	if sess == nil {
		client.sendError("session not found: " + code)
		return
	}
	if client.Name == "" {
		client.sendError("join_request requires a player name")
		return
	}
	if sess.memberByName(client.Name) != nil {
		client.sendError("name already taken in session")
		return
	}
	sess.Guests[client.Name] = client
	client.Code = code
	sess.LastActivity = time.Now()
	s.log.Infof("session %s: join request from %s", code, client.Name)
	sess.Host.send(Envelope{
		Type:        TypeJoinRequest,
		SessionCode: code,
		From:        client.Name,
		PlayerName:  client.Name,
	})
}

func (s *Server) joinResponse(client *Client, env Envelope) {
	sess := s.sessions[client.Code]
	if sess == nil || sess.Host != client {
		client.sendError("only the session host can answer join requests")
		return
	}
	guest := sess.Guests[env.To]
	if guest == nil {
		client.sendError("no pending guest named " + env.To)
		return
	}
	if env.Accepted == nil || !*env.Accepted {
		delete(sess.Guests, env.To)
		guest.Code = ""
	}
	env.From = client.Name
	env.SessionCode = sess.Code
	guest.send(env)
}

// forward relays a signaling envelope to the named session member.
func (s *Server) forward(client *Client, env Envelope, typ string) {
	sess := s.sessions[client.Code]
	if sess == nil {
		client.sendError("not in a session")
		return
	}
	target := sess.memberByName(env.To)
	if target == nil {
		client.sendError("no session member named " + env.To)
		return
	}
	env.Type = typ
	env.From = client.Name
	env.SessionCode = sess.Code
	target.send(env)
}

// broadcast fans an envelope out to every other session member, or to a
// single member when To is set (the retry-fallback path).
func (s *Server) broadcast(client *Client, env Envelope) {
	sess := s.sessions[client.Code]
	if sess == nil {
		client.sendError("not in a session")
		return
	}
	env.From = client.Name
	env.SessionCode = sess.Code
	if env.To != "" {
		if target := sess.memberByName(env.To); target != nil {
			target.send(env)
		}
		return
	}
	for _, m := range sess.members() {
		if m == client {
			continue
		}
		m.send(env)
	}
}

// disconnect tears down a client. A host leaving ends the whole session; a
// guest leaving notifies the host.
func (s *Server) disconnect(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, client.ID)
	sess := s.sessions[client.Code]
	if sess == nil {
		s.log.Infof("client %s disconnected", client.ID)
		return
	}
	if client.IsHost {
		s.log.Infof("session %s: host %s disconnected, ending session", sess.Code, client.Name)
		for _, g := range sess.Guests {
			g.send(Envelope{Type: TypeSessionEnded, SessionCode: sess.Code, Reason: "host disconnected"})
			g.Code = ""
		}
		delete(s.sessions, sess.Code)
		return
	}
	delete(sess.Guests, client.Name)
	s.log.Infof("session %s: guest %s disconnected", sess.Code, client.Name)
	if sess.Host != nil {
		sess.Host.send(Envelope{Type: TypeGuestLeft, SessionCode: sess.Code, PlayerName: client.Name})
	}
}
