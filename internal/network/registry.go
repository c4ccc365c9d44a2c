// Package network owns every socket of a lockstep peer: the listen sockets,
// the client connections, their outbound packet queues and the packet each
// one is currently receiving.
package network

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/lockstep/internal/command"
	"github.com/energizer-project/lockstep/internal/protocol"
	"github.com/energizer-project/lockstep/internal/util"
)

var (
	ErrFull         = errors.New("network: registry is full")
	ErrNoSlot       = errors.New("network: no such active slot")
	ErrServerLocked = errors.New("network: listen sockets must be added before clients")
	ErrNoListener   = errors.New("network: no listen address could be bound")
)

// SlotState is the protocol state of one registry slot.
type SlotState uint8

const (
	Inactive SlotState = iota
	Server
	Connected
	Playing
	HasLeft
	Admin
)

func (s SlotState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Server:
		return "server"
	case Connected:
		return "connected"
	case Playing:
		return "playing"
	case HasLeft:
		return "has_left"
	case Admin:
		return "admin"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText renders the state by name in JSON output.
func (s SlotState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// isClient reports whether a slot in this state carries a data connection.
func (s SlotState) isClient() bool {
	return s == Connected || s == Playing || s == Admin
}

type slot struct {
	id             uint32
	address        netip.Addr
	nickname       string
	state          SlotState
	playerUnlocked uint16

	conn     net.Conn
	listener net.Listener

	sendQueue []*protocol.Packet
	receiving *protocol.Packet

	connectedAt  time.Time
	lastActivity time.Time
}

func (s *slot) isPlayerUnlocked(nr uint8) bool {
	return nr < command.MaxPlayers && s.playerUnlocked&(1<<nr) != 0
}

// SlotInfo is a point-in-time copy of a slot.
type SlotInfo struct {
	ID             uint32     `json:"id"`
	Address        netip.Addr `json:"address"`
	Nickname       string     `json:"nickname"`
	State          SlotState  `json:"state"`
	PlayerUnlocked uint16     `json:"player_unlocked"`
	Queued         int        `json:"queued"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastActivity   time.Time  `json:"last_activity"`
}

func (s *slot) info() SlotInfo {
	return SlotInfo{
		ID:             s.id,
		Address:        s.address,
		Nickname:       s.nickname,
		State:          s.state,
		PlayerUnlocked: s.playerUnlocked,
		Queued:         len(s.sendQueue),
		ConnectedAt:    s.connectedAt,
		LastActivity:   s.lastActivity,
	}
}

// Counters are the aggregate slot counts.
type Counters struct {
	ServerSockets    int `json:"server_sockets"`
	ConnectedClients int `json:"connected_clients"`
	PlayingClients   int `json:"playing_clients"`
}

// Registry is a fixed-capacity table of slots indexed by client id. It is
// the single owner of all sockets and queued packets; other components go
// through its methods to send, receive or drop a connection.
//
// Socket I/O (Receive, Flush, Accept, Poll) and queueing belong to the
// goroutine driving the loop. Snapshots and counters may be read from any
// goroutine.
type Registry struct {
	mu       sync.RWMutex
	slots    []*slot
	capacity int
	counters Counters

	hooks  []func(id uint32)
	logger zerolog.Logger
}

// NewRegistry creates an empty registry holding at most capacity slots.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		slots:    make([]*slot, 0, capacity),
		capacity: capacity,
		logger:   util.ComponentLogger("registry"),
	}
}

// OnReset registers fn to run after a slot is reset. Holders of slot ids use
// it to forget ids that no longer refer to their connection.
func (r *Registry) OnReset(fn func(id uint32)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// AddServer registers a listen socket. It must be called before any client
// slot exists.
func (r *Registry) AddServer(ln net.Listener) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.state != Server {
			return 0, ErrServerLocked
		}
	}
	if len(r.slots) >= r.capacity {
		return 0, ErrFull
	}

	s := &slot{id: uint32(len(r.slots)), listener: ln, connectedAt: time.Now()}
	if ap, err := netip.ParseAddrPort(ln.Addr().String()); err == nil {
		s.address = ap.Addr()
	}
	r.slots = append(r.slots, s)
	r.setState(s, Server)

	r.logger.Info().Uint32("id", s.id).Str("addr", ln.Addr().String()).Msg("listen socket registered")
	return s.id, nil
}

// AddClient registers a data connection in the Connected state. The first
// fully reset slot after the listen sockets is reused; otherwise a new slot
// is appended. addr is the resolved remote address, if known.
func (r *Registry) AddClient(conn net.Conn, addr netip.Addr) (uint32, error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			r.logger.Warn().Err(err).Msg("failed to set TCP_NODELAY")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var s *slot
	for _, candidate := range r.slots[r.counters.ServerSockets:] {
		if candidate.state == Inactive {
			s = candidate
			break
		}
	}
	if s == nil {
		if len(r.slots) >= r.capacity {
			return 0, ErrFull
		}
		s = &slot{id: uint32(len(r.slots))}
		r.slots = append(r.slots, s)
	}

	now := time.Now()
	s.conn = conn
	s.address = addr.Unmap()
	s.nickname = ""
	s.playerUnlocked = 0
	s.connectedAt = now
	s.lastActivity = now
	r.setState(s, Connected)

	r.logger.Debug().Uint32("id", s.id).Str("remote", s.address.String()).Msg("client registered")
	return s.id, nil
}

// setState is the only writer of slot state. Callers hold mu.
func (r *Registry) setState(s *slot, state SlotState) {
	old := s.state
	if old == state {
		return
	}
	switch old {
	case Server:
		r.counters.ServerSockets--
	case Connected:
		r.counters.ConnectedClients--
	case Playing:
		r.counters.ConnectedClients--
		r.counters.PlayingClients--
	}
	switch state {
	case Server:
		r.counters.ServerSockets++
	case Connected:
		r.counters.ConnectedClients++
	case Playing:
		r.counters.ConnectedClients++
		r.counters.PlayingClients++
	}
	s.state = state
}

// ChangeState moves a slot to a new state and keeps the counters in step.
// Inactive is reached through Reset only, and listen slots cannot change.
func (r *Registry) ChangeState(id uint32, state SlotState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	if s.state == Server || state == Server || state == Inactive {
		return fmt.Errorf("network: illegal transition %s -> %s on slot %d", s.state, state, id)
	}
	r.setState(s, state)
	return nil
}

// lookup returns an active slot. Callers hold mu.
func (r *Registry) lookup(id uint32) (*slot, error) {
	if int(id) >= len(r.slots) || r.slots[id].state == Inactive {
		return nil, fmt.Errorf("%w: %d", ErrNoSlot, id)
	}
	return r.slots[id], nil
}

// Reset closes the slot's socket, drops its queued and partially received
// packets and returns it to Inactive. Registered reset hooks run afterwards.
func (r *Registry) Reset(id uint32) {
	r.mu.Lock()
	if int(id) >= len(r.slots) || r.slots[id].state == Inactive {
		r.mu.Unlock()
		return
	}
	s := r.slots[id]
	prev := s.state

	if s.conn != nil {
		s.conn.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	dropped := len(s.sendQueue)
	s.conn = nil
	s.listener = nil
	s.sendQueue = nil
	s.receiving = nil
	s.nickname = ""
	s.playerUnlocked = 0
	s.address = netip.Addr{}
	r.setState(s, Inactive)
	hooks := append([]func(uint32){}, r.hooks...)
	r.mu.Unlock()

	r.logger.Debug().Uint32("id", id).Str("was", prev.String()).Int("dropped", dropped).Msg("slot reset")
	for _, fn := range hooks {
		fn(id)
	}
}

// RemoveClient resets the slot holding conn.
func (r *Registry) RemoveClient(conn net.Conn) bool {
	r.mu.RLock()
	id, found := uint32(0), false
	for _, s := range r.slots {
		if s.conn != nil && s.conn == conn {
			id, found = s.id, true
			break
		}
	}
	r.mu.RUnlock()
	if found {
		r.Reset(id)
	}
	return found
}

// Shutdown resets every slot.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	n := len(r.slots)
	r.mu.RUnlock()
	for id := n - 1; id >= 0; id-- {
		r.Reset(uint32(id))
	}
	r.logger.Info().Msg("all connections closed")
}

// SendAll serializes cmd once and queues a copy of its packet on every
// client slot. With onlyPlaying only Playing slots match; a player other
// than command.PlayerAll further restricts to slots that unlocked it.
// It returns the number of slots the packet was queued on.
func (r *Registry) SendAll(cmd *command.Command, onlyPlaying bool, player uint8) int {
	cmd.PrepareToSend()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.slots {
		if s.state != Connected && s.state != Playing {
			continue
		}
		if onlyPlaying && s.state != Playing {
			continue
		}
		if player != command.PlayerAll && !s.isPlayerUnlocked(player) {
			continue
		}
		s.sendQueue = append(s.sendQueue, cmd.Packet().Clone())
		n++
	}
	return n
}

// Enqueue queues a copy of cmd's packet on a single slot.
func (r *Registry) Enqueue(id uint32, cmd *command.Command) error {
	cmd.PrepareToSend()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	if s.conn == nil {
		return fmt.Errorf("%w: %d is a listen socket", ErrNoSlot, id)
	}
	s.sendQueue = append(s.sendQueue, cmd.Packet().Clone())
	return nil
}

// Accept takes one pending connection from a listen slot, waiting at most
// timeout.
func (r *Registry) Accept(id uint32, timeout time.Duration) (net.Conn, error) {
	r.mu.RLock()
	s, err := r.lookup(id)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if s.listener == nil {
		return nil, fmt.Errorf("%w: %d is not a listen socket", ErrNoSlot, id)
	}
	if d, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok && timeout > 0 {
		d.SetDeadline(time.Now().Add(timeout))
	}
	return s.listener.Accept()
}

// Receive pulls bytes into the slot's in-progress packet. It returns the
// packet once complete and nil while it is still in flight. Any error means
// the connection has to be dropped.
func (r *Registry) Receive(id uint32, timeout time.Duration) (*protocol.Packet, error) {
	r.mu.RLock()
	s, err := r.lookup(id)
	servers := r.counters.ServerSockets
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if s.conn == nil {
		return nil, fmt.Errorf("%w: %d is a listen socket", ErrNoSlot, id)
	}

	if s.receiving == nil {
		s.receiving = protocol.NewIncoming()
	}
	p := s.receiving
	before := p.Count()
	if err := p.Recv(s.conn, timeout); err != nil {
		return nil, err
	}
	if p.Count() != before {
		r.touch(s)
	}
	if !p.IsReady() {
		return nil, nil
	}
	s.receiving = nil
	if servers > 0 {
		p.SetSender(id)
	}
	return p, nil
}

// Flush makes one non-blocking pass over the slot's send queue, stopping at
// the first packet that cannot be completed without waiting.
func (r *Registry) Flush(id uint32, timeout time.Duration) error {
	r.mu.RLock()
	s, err := r.lookup(id)
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	for len(s.sendQueue) > 0 {
		p := s.sendQueue[0]
		if err := p.Send(s.conn, false, timeout); err != nil {
			return err
		}
		if !p.IsReady() {
			return nil
		}
		r.mu.Lock()
		s.sendQueue[0] = nil
		s.sendQueue = s.sendQueue[1:]
		r.mu.Unlock()
		r.touch(s)
	}
	return nil
}

// SendNow queues cmd on the slot and blocks until the queue, cmd included,
// has been written or protocol.CompleteTimeout passes. Clients use it for
// their single server connection.
func (r *Registry) SendNow(id uint32, cmd *command.Command, timeout time.Duration) error {
	if err := r.Enqueue(id, cmd); err != nil {
		return err
	}
	giveUp := time.Now().Add(protocol.CompleteTimeout)
	for {
		if err := r.Flush(id, timeout); err != nil {
			return err
		}
		if info, ok := r.Slot(id); !ok || info.Queued == 0 {
			return nil
		}
		if time.Now().After(giveUp) {
			return protocol.ErrTimeout
		}
	}
}

func (r *Registry) touch(s *slot) {
	r.mu.Lock()
	s.lastActivity = time.Now()
	r.mu.Unlock()
}

// Conn returns the socket of an active data slot.
func (r *Registry) Conn(id uint32) (net.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.lookup(id)
	if err != nil || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

// Slot returns a snapshot of slot id, inactive slots included.
func (r *Registry) Slot(id uint32) (SlotInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.slots) {
		return SlotInfo{}, false
	}
	return r.slots[id].info(), true
}

// SetNickname records the nickname a client announced.
func (r *Registry) SetNickname(id uint32, nick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.nickname = nick
	return nil
}

// SetPlayerUnlocked replaces the slot's unlocked-player mask.
func (r *Registry) SetPlayerUnlocked(id uint32, mask uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.playerUnlocked = mask
	return nil
}

// ClientList returns snapshots of every slot, in id order.
func (r *Registry) ClientList() []SlotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SlotInfo, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.info())
	}
	return out
}

// ConnectedClients returns snapshots of the slots holding a live client
// connection.
func (r *Registry) ConnectedClients() []SlotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SlotInfo
	for _, s := range r.slots {
		if s.state.isClient() {
			out = append(out, s.info())
		}
	}
	return out
}

// Counters returns the aggregate counts.
func (r *Registry) Counters() Counters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters
}

// PlayingClients returns the number of slots in the Playing state.
func (r *Registry) PlayingClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters.PlayingClients
}

// Len returns the number of slots allocated so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// CleanStale resets client slots idle for longer than timeout.
func (r *Registry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	var stale []uint32

	r.mu.RLock()
	for _, s := range r.slots {
		if s.state.isClient() && s.lastActivity.Before(cutoff) {
			stale = append(stale, s.id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.logger.Warn().Uint32("id", id).Msg("cleaned stale connection")
		r.Reset(id)
	}
	return len(stale)
}
