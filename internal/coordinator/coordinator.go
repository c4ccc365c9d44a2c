// Package coordinator drives the lockstep synchronization loop. Each tick it
// waits for socket readiness once, accepts new connections, receives
// commands in registry order into a FIFO and pushes queued output, so every
// peer applies commands in the same order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/lockstep/internal/command"
	"github.com/energizer-project/lockstep/internal/config"
	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/network"
	"github.com/energizer-project/lockstep/internal/protocol"
	"github.com/energizer-project/lockstep/internal/util"
)

var (
	ErrNotServer    = errors.New("coordinator: operation requires the server role")
	ErrNotClient    = errors.New("coordinator: operation requires the client role")
	ErrDisconnected = errors.New("coordinator: server connection lost")
)

// Role selects whether the coordinator accepts clients or connects to a
// server.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithEventBus publishes slot lifecycle and announce events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithBlacklist replaces the default empty in-memory blacklist.
func WithBlacklist(b *network.Blacklist) Option {
	return func(c *Coordinator) { c.blacklist = b }
}

// WithPlayerLocks makes the server answer player authentication itself.
func WithPlayerLocks(l PlayerLocks) Option {
	return func(c *Coordinator) { c.locks = l }
}

// WithNickname sets the nickname a client sends when joining.
func WithNickname(nick string) Option {
	return func(c *Coordinator) { c.nickname = nick }
}

// WithAnnounce emits an announce event every interval while serving.
func WithAnnounce(cfg config.AnnounceConfig) Option {
	return func(c *Coordinator) { c.announce = cfg }
}

// Coordinator owns the registry, the blacklist and the FIFO of received
// commands not yet applied.
type Coordinator struct {
	role      Role
	cfg       config.NetworkConfig
	reg       *network.Registry
	blacklist *network.Blacklist
	bus       *events.EventBus
	locks     PlayerLocks
	limiter   *acceptLimiter
	nickname  string

	queue       []*command.Command
	listenAddrs []string

	clientID   uint32
	joined     bool
	serverSlot uint32
	connected  bool

	announce     config.AnnounceConfig
	lastAnnounce time.Time
	announceNow  bool

	stopRequested bool
	logger        zerolog.Logger
}

func newCoordinator(role Role, cfg config.NetworkConfig, capacity int, opts []Option) *Coordinator {
	c := &Coordinator{
		role:    role,
		cfg:     cfg,
		reg:     network.NewRegistry(capacity),
		limiter: newAcceptLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		logger:  util.ComponentLogger("coordinator").With().Str("role", role.String()).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.blacklist == nil {
		c.blacklist = network.NewBlacklist()
	}
	c.reg.OnReset(c.slotReset)
	return c
}

// NewServer creates a server-role coordinator. The server is client 0.
func NewServer(cfg config.NetworkConfig, opts ...Option) *Coordinator {
	c := newCoordinator(RoleServer, cfg, cfg.MaxClients, opts)
	c.joined = true
	return c
}

// NewClient creates a client-role coordinator holding a single connection.
func NewClient(cfg config.NetworkConfig, opts ...Option) *Coordinator {
	return newCoordinator(RoleClient, cfg, 1, opts)
}

// Role returns the coordinator's role.
func (c *Coordinator) Role() Role { return c.role }

// ClientID is the id recorded in commands this peer originates. It makes
// the coordinator a command.Identity.
func (c *Coordinator) ClientID() uint32 { return c.clientID }

// Joined reports whether a client has received its id from the server.
func (c *Coordinator) Joined() bool { return c.joined }

// Registry exposes the connection table.
func (c *Coordinator) Registry() *network.Registry { return c.reg }

// Blacklist exposes the banned prefixes.
func (c *Coordinator) Blacklist() *network.Blacklist { return c.blacklist }

// Listen binds the configured addresses. Failing to bind any of them is the
// only fatal network error.
func (c *Coordinator) Listen(ctx context.Context) error {
	if c.role != RoleServer {
		return ErrNotServer
	}
	listeners, err := network.Listen(ctx, c.cfg.ListenAddresses, c.cfg.Port)
	if err != nil {
		return err
	}
	for _, ln := range listeners {
		if _, err := c.reg.AddServer(ln); err != nil {
			ln.Close()
			return fmt.Errorf("register listen socket %s: %w", ln.Addr(), err)
		}
		c.listenAddrs = append(c.listenAddrs, ln.Addr().String())
		c.emit(ctx, events.EventListening, events.ClientPayload{Address: ln.Addr().String(), State: network.Server.String()})
	}
	return nil
}

// ListenAddrs returns the bound listen addresses with their ports.
func (c *Coordinator) ListenAddrs() []string {
	return append([]string(nil), c.listenAddrs...)
}

// Connect opens the client's connection to addr and sends the join
// request. The assigned client id arrives with the server's answer.
func (c *Coordinator) Connect(ctx context.Context, addr string) error {
	if c.role != RoleClient {
		return ErrNotClient
	}
	conn, ip, err := network.Dial(ctx, addr, c.cfg.Port)
	if err != nil {
		return err
	}
	id, err := c.reg.AddClient(conn, ip)
	if err != nil {
		conn.Close()
		return err
	}
	c.serverSlot = id
	c.connected = true
	c.logger.Info().Str("server", conn.RemoteAddr().String()).Msg("connected")

	return c.SendServer(command.New(&command.JoinBody{Nickname: c.nickname}, c))
}

// Tick runs one loop iteration: a single readiness wait of at most timeout,
// then accepts, then receives in slot order, then one send pass.
func (c *Coordinator) Tick(timeout time.Duration) error {
	if c.role == RoleClient && !c.connected {
		return ErrDisconnected
	}

	rs, err := c.reg.Poll(timeout)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	for id := range rs.Servers() {
		c.accept(id)
	}
	for id := range rs.Clients() {
		c.receive(id)
	}
	for id := range rs.Writable() {
		c.flush(id)
	}

	if idle := c.cfg.IdleTimeout(); idle > 0 && c.role == RoleServer {
		c.reg.CleanStale(idle)
	}

	if c.role == RoleClient && !c.connected {
		return ErrDisconnected
	}
	return nil
}

func (c *Coordinator) accept(id uint32) {
	conn, err := c.reg.Accept(id, c.cfg.IOTimeout())
	if err != nil {
		if !protocol.IsWouldBlock(err) && !errors.Is(err, net.ErrClosed) {
			c.logger.Warn().Err(err).Uint32("listener", id).Msg("accept failed")
		}
		return
	}

	addr := network.RemoteAddr(conn)
	if c.blacklist.Contains(addr) {
		conn.Close()
		c.logger.Debug().Str("remote", addr.String()).Msg("rejected blacklisted connection")
		c.emit(context.Background(), events.EventClientRejected, events.ClientPayload{Address: addr.String(), Reason: "blacklisted"})
		return
	}
	if !c.limiter.allow(addr) {
		conn.Close()
		c.logger.Debug().Str("remote", addr.String()).Msg("rejected connection over accept rate")
		c.emit(context.Background(), events.EventClientRejected, events.ClientPayload{Address: addr.String(), Reason: "rate"})
		return
	}

	slot, err := c.reg.AddClient(conn, addr)
	if err != nil {
		conn.Close()
		c.logger.Warn().Err(err).Str("remote", addr.String()).Msg("cannot register client")
		return
	}
	c.logger.Info().Uint32("id", slot).Str("remote", addr.String()).Msg("client connected")
	c.emit(context.Background(), events.EventClientConnected, events.ClientPayload{
		ID: slot, Address: addr.String(), State: network.Connected.String(),
	})
}

func (c *Coordinator) receive(id uint32) {
	p, err := c.reg.Receive(id, c.cfg.IOTimeout())
	if err != nil {
		if !errors.Is(err, network.ErrNoSlot) {
			c.drop(id, err)
		}
		return
	}
	if p == nil {
		return
	}

	cmd, err := command.ReadFromPacket(p)
	if err != nil {
		c.drop(id, err)
		return
	}
	c.dispatch(cmd, id)
}

// finalFlush bounds how long queued answers may take on the way out.
const finalFlush = 2 * time.Second

// flushPending pushes every queued packet until the queues are empty or
// limit passes.
func (c *Coordinator) flushPending(limit time.Duration) {
	giveUp := time.Now().Add(limit)
	for _, s := range c.reg.ConnectedClients() {
		for s.Queued > 0 && time.Now().Before(giveUp) {
			if err := c.reg.Flush(s.ID, c.cfg.IOTimeout()); err != nil && !protocol.IsWouldBlock(err) {
				break
			}
			info, ok := c.reg.Slot(s.ID)
			if !ok {
				break
			}
			s = info
		}
	}
}

func (c *Coordinator) flush(id uint32) {
	if err := c.reg.Flush(id, c.cfg.IOTimeout()); err != nil && !errors.Is(err, network.ErrNoSlot) {
		c.drop(id, err)
	}
}

// drop resets a slot whose connection failed. Only that connection is
// affected.
func (c *Coordinator) drop(id uint32, cause error) {
	c.logger.Warn().Err(cause).Uint32("id", id).Msg("dropping connection")
	c.reset(id, cause.Error())
}

func (c *Coordinator) reset(id uint32, reason string) {
	info, ok := c.reg.Slot(id)
	if !ok {
		return
	}
	c.reg.Reset(id)
	c.emit(context.Background(), events.EventClientReset, events.ClientPayload{
		ID: id, Address: info.Address.String(), Nickname: info.Nickname, State: info.State.String(), Reason: reason,
	})
}

// slotReset forgets any reference to a slot that has been reset.
func (c *Coordinator) slotReset(id uint32) {
	if c.role == RoleClient && id == c.serverSlot {
		c.connected = false
	}
}

// Next pops the oldest received command, or returns nil.
func (c *Coordinator) Next() *command.Command {
	if len(c.queue) == 0 {
		return nil
	}
	cmd := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return cmd
}

// Pending returns the number of commands waiting in the FIFO.
func (c *Coordinator) Pending() int { return len(c.queue) }

// Drain applies every queued command to w in FIFO order and returns how
// many were applied. Commands whose Execute returns false stay with w.
func (c *Coordinator) Drain(w command.World) int {
	n := 0
	for cmd := c.Next(); cmd != nil; cmd = c.Next() {
		if !cmd.Execute(w) {
			c.logger.Trace().Stringer("cmd", cmd).Msg("command retained by world")
		}
		n++
	}
	return n
}

func (c *Coordinator) inject(cmd *command.Command) {
	c.queue = append(c.queue, cmd)
}

// SendAll broadcasts cmd to the playing clients. A server that does not
// exclude itself also receives the command through its own FIFO. A client
// relays the command to its server.
func (c *Coordinator) SendAll(cmd *command.Command, excludeSelf bool, player uint8) error {
	if c.role == RoleClient {
		return c.SendServer(cmd)
	}
	c.reg.SendAll(cmd, true, player)
	if !excludeSelf {
		c.inject(cmd)
	}
	return nil
}

// SendServer hands cmd to the server. A client blocks until the command is
// written; the server treats it as a local command and queues it directly.
func (c *Coordinator) SendServer(cmd *command.Command) error {
	if c.role == RoleServer {
		c.inject(cmd)
		return nil
	}
	if !c.connected {
		return ErrDisconnected
	}
	if err := c.reg.SendNow(c.serverSlot, cmd, c.cfg.IOTimeout()); err != nil {
		c.drop(c.serverSlot, err)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// SendTo queues cmd for a single client.
func (c *Coordinator) SendTo(id uint32, cmd *command.Command) error {
	return c.reg.Enqueue(id, cmd)
}

// Kick disconnects a client.
func (c *Coordinator) Kick(id uint32) error {
	info, ok := c.reg.Slot(id)
	if !ok || info.State == network.Inactive || info.State == network.Server {
		return fmt.Errorf("%w: %d", network.ErrNoSlot, id)
	}
	c.logger.Info().Uint32("id", id).Str("nickname", info.Nickname).Msg("kicking client")
	c.reset(id, "kicked")
	return nil
}

// Run ticks until ctx is cancelled, a shutdown is requested over the
// service command, or a client loses its server. Received commands are
// applied to w after every tick.
func (c *Coordinator) Run(ctx context.Context, w command.World) error {
	tick := c.cfg.Tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.Tick(tick); err != nil {
			return err
		}
		c.Drain(w)
		c.maybeAnnounce(ctx)

		if c.stopRequested {
			c.logger.Info().Msg("shutdown requested by admin")
			c.flushPending(finalFlush)
			return nil
		}
	}
}

// Shutdown closes every socket.
func (c *Coordinator) Shutdown() {
	ctx := context.Background()
	if c.role == RoleServer && c.announce.Enabled {
		c.emit(ctx, events.EventAnnounce, c.Snapshot(StatusShutdown))
	}
	c.emit(ctx, events.EventShutdown, nil)
	c.reg.Shutdown()
	c.queue = nil
	c.connected = false
}

func (c *Coordinator) emit(ctx context.Context, t events.EventType, payload interface{}) {
	c.bus.Emit(ctx, events.NewEvent(t, "coordinator", payload))
}
