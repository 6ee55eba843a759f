// Package transport carries cluster.Envelope values between the coordinator
// and its workers over websockets. The coordinator runs a Hub; each worker
// holds one Client connection to it.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/hashcrack/internal/cluster"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	registerWait   = 10 * time.Second
	maxMessageSize = 8 << 20
	sendBuffer     = 256
)

var (
	// ErrNotConnected is returned when sending to an unknown worker.
	ErrNotConnected = errors.New("worker not connected")
	// ErrSendBufferFull is returned when a worker does not drain its queue.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handler receives what the Hub learns from its connections.
type Handler interface {
	// Register is called once per connection, after the worker announced
	// itself and before any other message of that connection is delivered.
	Register(m cluster.Member)
	// Deliver hands over every later message of the connection.
	Deliver(workerID string, env cluster.Envelope)
	// MemberDown is called when the connection ends.
	MemberDown(workerID string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub accepts worker connections and routes envelopes to them.
type Hub struct {
	handler Handler
	log     *zap.SugaredLogger
	peers   map[string]*peer
	mu      sync.RWMutex
}

// NewHub returns a Hub without handler. SetHandler must be called before
// the Hub serves its first connection.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{log: log, peers: make(map[string]*peer)}
}

// SetHandler sets the receiver of connection events. The coordinator's
// Master needs the Hub as its outbox, so the two are wired in two steps.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

type peer struct {
	handler   Handler
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	member    cluster.Member
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// ServeHTTP upgrades the request and serves the connection until it ends.
// The first message must be a MsgRegister envelope.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	member, err := readRegister(conn)
	if err != nil {
		h.log.Warnw("rejecting connection", "remote", r.RemoteAddr, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	p := &peer{
		conn:   conn,
		member: member,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if _, ok := h.peers[member.ID]; ok {
		h.mu.Unlock()
		h.log.Warnw("rejecting second connection", "worker", member.ID)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	p.handler = h.handler
	h.peers[member.ID] = p
	h.mu.Unlock()

	h.log.Infow("worker connected", "worker", member.ID, "addr", member.Addr)
	p.handler.Register(member)

	go h.writePump(p)
	h.readPump(p)
}

func readRegister(conn *websocket.Conn) (cluster.Member, error) {
	conn.SetReadDeadline(time.Now().Add(registerWait))
	var env cluster.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return cluster.Member{}, fmt.Errorf("read register: %w", err)
	}
	if env.Type != cluster.MsgRegister {
		return cluster.Member{}, fmt.Errorf("expected %s, got %s", cluster.MsgRegister, env.Type)
	}
	var reg cluster.Register
	if err := env.Decode(&reg); err != nil {
		return cluster.Member{}, err
	}
	if reg.Member.ID == "" {
		return cluster.Member{}, errors.New("register without member id")
	}
	return reg.Member, nil
}

func (h *Hub) readPump(p *peer) {
	defer func() {
		p.close()
		p.conn.Close()
		h.mu.Lock()
		current := h.peers[p.member.ID] == p
		if current {
			delete(h.peers, p.member.ID)
		}
		h.mu.Unlock()
		if current {
			h.log.Infow("worker disconnected", "worker", p.member.ID)
			p.handler.MemberDown(p.member.ID)
		}
	}()

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env cluster.Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warnw("read failed", "worker", p.member.ID, "error", err)
			}
			return
		}
		p.handler.Deliver(p.member.ID, env)
	}
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			if err := h.write(p, msg); err != nil {
				h.log.Warnw("write failed", "worker", p.member.ID, "error", err)
				p.close()
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case msg := <-p.send:
					if h.write(p, msg) != nil {
						return
					}
				default:
					p.conn.SetWriteDeadline(time.Now().Add(writeWait))
					p.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (h *Hub) write(p *peer, msg []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, msg)
}

// Send queues env for workerID. It never blocks.
func (h *Hub) Send(workerID string, env cluster.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	h.mu.RLock()
	p, ok := h.peers[workerID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, workerID)
	}

	select {
	case <-p.done:
		return fmt.Errorf("%w: %s", ErrNotConnected, workerID)
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, workerID)
	}
}

// SendFragment sends one bulk fragment as a MsgWelcome envelope. Unlike Send
// it waits for room in the worker's queue, up to writeWait, so a transfer
// larger than the queue is paced by the connection.
func (h *Hub) SendFragment(workerID string, f cluster.Fragment) error {
	env, err := cluster.NewEnvelope(cluster.MsgWelcome, f)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	h.mu.RLock()
	p, ok := h.peers[workerID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, workerID)
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return fmt.Errorf("%w: %s", ErrNotConnected, workerID)
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, workerID)
	}
}

// Disconnect closes the connection of workerID after its queued messages
// went out. Unknown ids are ignored.
func (h *Hub) Disconnect(workerID string) {
	h.mu.RLock()
	p, ok := h.peers[workerID]
	h.mu.RUnlock()
	if ok {
		p.close()
	}
}

// Close disconnects every worker.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.peers {
		p.close()
	}
}

// Members returns the connected workers ordered by id.
func (h *Hub) Members() []cluster.Member {
	h.mu.RLock()
	out := make([]cluster.Member, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.member)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b cluster.Member) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
