// internal/peer/manager.go
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jyseo/rummath/internal/protocol"
	"github.com/jyseo/rummath/internal/relay"
)

const (
	sendRetries = 10
	retryDelay  = 500 * time.Millisecond
	joinTimeout = 15 * time.Second
)

// Signal is the offer/answer/candidate payload relayed between two peers
// while their direct channel is being established. A candidate names an
// endpoint the receiving peer can dial.
type Signal struct {
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint,omitempty"`
}

const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// rosterUpdate travels over the relay broadcast path whenever session
// membership changes. Order is canonical: host first, then guests in join
// order.
type rosterUpdate struct {
	Type    string   `json:"type"`
	Players []string `json:"players"`
}

const rosterUpdateType = "roster_update"

// Manager owns one peer's view of a session: the relay connection, the
// roster, and a direct channel per other member. Gameplay messages prefer
// direct channels; the relay stays available as the fallback path.
type Manager struct {
	mu sync.Mutex

	LocalName   string
	SessionCode string
	IsHost      bool

	relayConn *websocket.Conn
	listener  *Listener
	roster    []string
	channels  map[string]*Channel

	// lastEndpoint remembers each peer's most recent candidate endpoint so a
	// dropped channel can be re-dialed within its reconnect budget.
	lastEndpoint map[string]string

	// Candidates that arrived before the peer's offer was applied, replayed
	// once it is.
	pendingCandidates map[string][]string
	offerApplied      map[string]bool

	created chan relay.Envelope
	joined  chan relay.Envelope
	ctx     context.Context
	cancel  context.CancelFunc

	// OnGameMessage receives every sync message addressed to this peer.
	OnGameMessage func(msg protocol.Message)

	// OnJoinRequest lets the host accept or reject a guest. Nil accepts all.
	OnJoinRequest func(playerName string) bool

	// OnRosterChange fires whenever session membership changes.
	OnRosterChange func(players []string)

	// OnSessionEnded fires when the relay ends the session.
	OnSessionEnded func(reason string)

	log *logrus.Entry
}

// NewManager builds a manager for the named local player.
func NewManager(localName string) *Manager {
	return &Manager{
		LocalName:         localName,
		channels:          make(map[string]*Channel),
		lastEndpoint:      make(map[string]string),
		pendingCandidates: make(map[string][]string),
		offerApplied:      make(map[string]bool),
		created:           make(chan relay.Envelope, 1),
		joined:            make(chan relay.Envelope, 1),
		log:               logrus.WithFields(logrus.Fields{"component": "peer", "player": localName}),
	}
}

// Connect dials the relay, announces the local name, and starts the listener
// that inbound direct channels land on.
func (m *Manager) Connect(ctx context.Context, relayURL string) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	conn, _, err := websocket.Dial(m.ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", relayURL, err)
	}
	m.relayConn = conn

	listener, err := NewListener(m.acceptChannel)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "listener failed")
		return err
	}
	m.listener = listener

	if err := m.sendRelay(relay.Envelope{Type: relay.TypeConnect, PlayerName: m.LocalName}); err != nil {
		return err
	}
	go m.relayReadLoop()
	return nil
}

// CreateSession registers a session with the relay and returns its code. An
// empty proposed code lets the relay generate one.
func (m *Manager) CreateSession(proposedCode string) (string, error) {
	if err := m.sendRelay(relay.Envelope{
		Type:        relay.TypeCreateSession,
		SessionCode: proposedCode,
		PlayerName:  m.LocalName,
	}); err != nil {
		return "", err
	}
	select {
	case env := <-m.created:
		if env.Error != "" {
			return "", fmt.Errorf("create session: %s", env.Error)
		}
		m.mu.Lock()
		m.SessionCode = env.SessionCode
		m.IsHost = true
		m.roster = []string{m.LocalName}
		m.mu.Unlock()
		return env.SessionCode, nil
	case <-time.After(joinTimeout):
		return "", fmt.Errorf("create session: no reply within %s", joinTimeout)
	case <-m.ctx.Done():
		return "", m.ctx.Err()
	}
}

// Join asks to enter the session behind the code and blocks until the host
// answers. Failure to establish within the timeout is fatal to the attempt.
func (m *Manager) Join(code string) ([]string, error) {
	if err := m.sendRelay(relay.Envelope{
		Type:        relay.TypeJoinRequest,
		SessionCode: code,
		PlayerName:  m.LocalName,
	}); err != nil {
		return nil, err
	}
	select {
	case env := <-m.joined:
		if env.Error != "" {
			return nil, fmt.Errorf("join %s: %s", code, env.Error)
		}
		if env.Accepted == nil || !*env.Accepted {
			return nil, fmt.Errorf("join %s: host rejected the request", code)
		}
		m.mu.Lock()
		m.SessionCode = env.SessionCode
		m.roster = env.Players
		m.mu.Unlock()
		if m.OnRosterChange != nil {
			m.OnRosterChange(env.Players)
		}
		return env.Players, nil
	case <-time.After(joinTimeout):
		return nil, fmt.Errorf("join %s: no answer within %s", code, joinTimeout)
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	}
}

// Roster returns the current membership, host first.
func (m *Manager) Roster() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.roster))
	copy(out, m.roster)
	return out
}

// Close leaves the session and tears down every connection.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.listener != nil {
		m.listener.Close()
	}
	if m.relayConn != nil {
		m.relayConn.Close(websocket.StatusNormalClosure, "leaving session")
	}
}

func (m *Manager) sendRelay(env relay.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()
	if err := m.relayConn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	return nil
}

func (m *Manager) relayReadLoop() {
	for {
		typ, data, err := m.relayConn.Read(m.ctx)
		if err != nil {
			m.log.Debugf("relay connection closed: %v", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var env relay.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Warnf("bad relay envelope: %v", err)
			continue
		}
		m.handleRelayEnvelope(env)
	}
}

func (m *Manager) handleRelayEnvelope(env relay.Envelope) {
	switch env.Type {
	case relay.TypeConnected, relay.TypePong:
		// Nothing to do.

	case relay.TypeSessionCreated:
		select {
		case m.created <- env:
		default:
		}

	case relay.TypeJoinRequest:
		m.handleJoinRequest(env.PlayerName)

	case relay.TypeJoinResponse:
		select {
		case m.joined <- env:
		default:
		}

	case relay.TypeSignal:
		var sig Signal
		if err := json.Unmarshal(env.Payload, &sig); err != nil {
			m.log.Warnf("bad signal from %s: %v", env.From, err)
			return
		}
		m.handleSignal(env.From, sig)

	case relay.TypeBroadcast:
		m.deliverPayload(env.Payload)

	case relay.TypeGuestLeft:
		m.handleGuestLeft(env.PlayerName)

	case relay.TypeSessionEnded:
		m.log.Infof("session ended: %s", env.Reason)
		if m.OnSessionEnded != nil {
			m.OnSessionEnded(env.Reason)
		}

	case relay.TypeError:
		m.log.Warnf("relay error: %s", env.Error)
		// Surface errors to a blocked create/join waiter if one exists.
		select {
		case m.created <- env:
		default:
		}
		select {
		case m.joined <- env:
		default:
		}

	default:
		m.log.Warnf("unknown relay message type %q", env.Type)
	}
}

// handleJoinRequest runs on the host: accept the guest, answer with the full
// roster, announce the new membership, and start wiring channels.
func (m *Manager) handleJoinRequest(playerName string) {
	if !m.IsHost {
		return
	}
	accepted := true
	if m.OnJoinRequest != nil {
		accepted = m.OnJoinRequest(playerName)
	}
	m.mu.Lock()
	if accepted {
		m.roster = append(m.roster, playerName)
	}
	players := make([]string, len(m.roster))
	copy(players, m.roster)
	m.mu.Unlock()

	resp := relay.Envelope{
		Type:     relay.TypeJoinResponse,
		To:       playerName,
		Accepted: &accepted,
		Players:  players,
	}
	if err := m.sendRelay(resp); err != nil {
		m.log.Warnf("join response to %s failed: %v", playerName, err)
		return
	}
	if !accepted {
		m.log.Infof("rejected join request from %s", playerName)
		return
	}
	m.log.Infof("%s joined the session", playerName)
	m.announceRoster(players)
	m.wirePendingPeers()
}

// announceRoster broadcasts the membership so every guest can start wiring
// channels to peers it has not connected yet.
func (m *Manager) announceRoster(players []string) {
	update := rosterUpdate{Type: rosterUpdateType, Players: players}
	data, _ := json.Marshal(update)
	if err := m.sendRelay(relay.Envelope{Type: relay.TypeBroadcast, Payload: data}); err != nil {
		m.log.Warnf("roster broadcast failed: %v", err)
	}
	if m.OnRosterChange != nil {
		m.OnRosterChange(players)
	}
}

// wirePendingPeers sends an offer to every roster member after the local one
// that has no open channel yet. The earlier member of any pair always
// initiates, so exactly one side offers.
func (m *Manager) wirePendingPeers() {
	m.mu.Lock()
	var targets []string
	seen := false
	for _, name := range m.roster {
		if name == m.LocalName {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if ch, ok := m.channels[name]; !ok || !ch.Open() {
			targets = append(targets, name)
		}
	}
	endpoint := m.listener.Endpoint()
	m.mu.Unlock()

	for _, name := range targets {
		m.sendSignal(name, Signal{Kind: SignalOffer})
		m.sendSignal(name, Signal{Kind: SignalCandidate, Endpoint: endpoint})
	}
}

func (m *Manager) sendSignal(to string, sig Signal) {
	data, _ := json.Marshal(sig)
	if err := m.sendRelay(relay.Envelope{Type: relay.TypeSignal, To: to, Payload: data}); err != nil {
		m.log.Warnf("signal %s to %s failed: %v", sig.Kind, to, err)
	}
}

// handleSignal runs the channel establishment dance. Candidates arriving
// before their peer's offer are buffered and replayed once it lands.
func (m *Manager) handleSignal(from string, sig Signal) {
	switch sig.Kind {
	case SignalOffer:
		m.mu.Lock()
		m.offerApplied[from] = true
		buffered := m.pendingCandidates[from]
		delete(m.pendingCandidates, from)
		m.mu.Unlock()
		m.sendSignal(from, Signal{Kind: SignalAnswer, Endpoint: m.listener.Endpoint()})
		for _, endpoint := range buffered {
			m.dialCandidate(from, endpoint)
		}

	case SignalCandidate:
		m.mu.Lock()
		applied := m.offerApplied[from]
		if !applied {
			m.pendingCandidates[from] = append(m.pendingCandidates[from], sig.Endpoint)
		}
		m.mu.Unlock()
		if applied {
			m.dialCandidate(from, sig.Endpoint)
		} else {
			m.log.Debugf("buffered candidate from %s until its offer arrives", from)
		}

	case SignalAnswer:
		// The answering side dials us; its connection lands on the listener.
		m.log.Debugf("answer from %s, awaiting inbound channel", from)

	default:
		m.log.Warnf("unknown signal kind %q from %s", sig.Kind, from)
	}
}

func (m *Manager) channelFor(peerName string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[peerName]
	if !ok {
		ch = NewChannel(peerName)
		m.channels[peerName] = ch
	}
	return ch
}

func (m *Manager) dialCandidate(peerName, endpoint string) {
	m.mu.Lock()
	m.lastEndpoint[peerName] = endpoint
	m.mu.Unlock()

	ch := m.channelFor(peerName)
	if ch.Open() {
		return
	}
	if err := ch.Dial(m.ctx, endpoint, m.LocalName); err != nil {
		m.log.Warnf("candidate %s for %s failed: %v, relay stays the path", endpoint, peerName, err)
		return
	}
	go ch.ReadLoop(m.ctx, m.deliverPayload)
}

// redial re-establishes a dropped direct channel against the peer's last
// known endpoint while the channel's reconnect budget lasts. A failed dial
// consumes one reconnect.
func (m *Manager) redial(peerName string) bool {
	ch := m.channelFor(peerName)
	if ch.Open() {
		return true
	}
	if !ch.Reconnectable() {
		return false
	}
	m.mu.Lock()
	endpoint := m.lastEndpoint[peerName]
	m.mu.Unlock()
	if endpoint == "" {
		return false
	}
	if err := ch.Dial(m.ctx, endpoint, m.LocalName); err != nil {
		ch.markClosed()
		m.log.Debugf("redial %s at %s failed: %v", peerName, endpoint, err)
		return false
	}
	go ch.ReadLoop(m.ctx, m.deliverPayload)
	return true
}

// acceptChannel adopts an inbound direct connection from the listener.
func (m *Manager) acceptChannel(peerName string, conn *websocket.Conn) {
	ch := m.channelFor(peerName)
	ch.attach(conn)
	go ch.ReadLoop(m.ctx, m.deliverPayload)
}

func (m *Manager) handleGuestLeft(playerName string) {
	m.mu.Lock()
	for i, name := range m.roster {
		if name == playerName {
			m.roster = append(m.roster[:i], m.roster[i+1:]...)
			break
		}
	}
	delete(m.channels, playerName)
	delete(m.lastEndpoint, playerName)
	delete(m.offerApplied, playerName)
	delete(m.pendingCandidates, playerName)
	players := make([]string, len(m.roster))
	copy(players, m.roster)
	m.mu.Unlock()

	m.log.Infof("%s left the session", playerName)
	if m.IsHost {
		m.announceRoster(players)
	} else if m.OnRosterChange != nil {
		m.OnRosterChange(players)
	}
}

// deliverPayload routes one payload received from a direct channel or the
// relay broadcast path: membership updates are handled internally, all other
// traffic is a sync message for the game layer.
func (m *Manager) deliverPayload(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		m.log.Warnf("undecodable payload: %v", err)
		return
	}
	if probe.Type == rosterUpdateType {
		var update rosterUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			m.log.Warnf("bad roster update: %v", err)
			return
		}
		m.mu.Lock()
		m.roster = update.Players
		m.mu.Unlock()
		if m.OnRosterChange != nil {
			m.OnRosterChange(update.Players)
		}
		m.wirePendingPeers()
		return
	}

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warnf("bad sync message: %v", err)
		return
	}
	if msg.To != "" && msg.To != m.LocalName {
		return
	}
	if m.OnGameMessage != nil {
		m.OnGameMessage(msg)
	}
}

// Send delivers one sync message to a single peer: bounded retries on the
// direct channel, then relay broadcast addressed to that recipient only.
func (m *Manager) Send(peerName string, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal sync message: %w", err)
	}
	ch := m.channelFor(peerName)
	for attempt := 0; attempt < sendRetries; attempt++ {
		if !ch.Open() {
			m.redial(peerName)
		}
		if ch.Open() {
			if err := ch.Send(m.ctx, data); err == nil {
				return nil
			}
		}
		select {
		case <-time.After(retryDelay):
		case <-m.ctx.Done():
			return m.ctx.Err()
		}
	}
	m.log.Warnf("direct channel to %s exhausted %d retries, falling back to relay", peerName, sendRetries)
	return m.sendRelay(relay.Envelope{Type: relay.TypeBroadcast, To: peerName, Payload: data})
}

// Broadcast delivers one sync message to every other session member, each
// with its own retry and fallback budget.
func (m *Manager) Broadcast(msg protocol.Message) {
	for _, name := range m.Roster() {
		if name == m.LocalName {
			continue
		}
		go func(peer string) {
			if err := m.Send(peer, msg); err != nil {
				m.log.Warnf("broadcast to %s failed: %v", peer, err)
			}
		}(name)
	}
}
