// Package command implements the replicated commands exchanged by lockstep
// peers. A command is a closed set of body variants keyed by ID; every body
// is serialized behind the sending client's id, which the shared codec
// writes first for every variant.
package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/lockstep/internal/protocol"
	"github.com/energizer-project/lockstep/internal/wire"
)

var (
	ErrUnknownCommand   = errors.New("command: unknown command id")
	ErrUnknownOperation = errors.New("command: unknown service operation")
	ErrDecode           = errors.New("command: decode failed")
)

// Identity supplies the local client id recorded in outgoing commands.
type Identity interface {
	ClientID() uint32
}

// World applies decoded commands to the simulation. Apply returns false to
// keep the command alive past the call.
type World interface {
	Apply(cmd *Command) bool
}

// Body is the variant-specific part of a command.
type Body interface {
	ID() ID
	rdwr(c *wire.Cursor)
}

// worldBody is implemented by bodies tied to a simulation step.
type worldBody interface {
	stamp() *WorldStamp
}

// validator is implemented by bodies that can reject a decoded payload.
type validator interface {
	validate() error
}

// Command is one replicated unit of state change. It exclusively owns the
// packet it is serialized into or was decoded from.
type Command struct {
	ID          ID
	OurClientID uint32
	Body        Body

	packet *protocol.Packet
	ready  bool
}

// New creates a command around body. The client id is taken from ident; a
// nil ident records client id 0, which is the server's.
func New(body Body, ident Identity) *Command {
	c := &Command{
		ID:     body.ID(),
		Body:   body,
		packet: protocol.NewPacket(),
	}
	if ident != nil {
		c.OurClientID = ident.ClientID()
	}
	return c
}

// rdwr is the single serialization entry point for both directions: header
// id when saving, then the client id, then the world stamp, then the body.
func (c *Command) rdwr() {
	cur := c.packet.Cursor()
	if cur.Saving() {
		c.packet.Header.ID = uint16(c.ID)
		c.ready = true
	}
	cur.Uint32(&c.OurClientID)
	if w, ok := c.Body.(worldBody); ok {
		w.stamp().rdwr(cur)
	}
	c.Body.rdwr(cur)
}

// Receive takes ownership of a fully received packet and decodes it into the
// command. It reports whether decoding succeeded.
func (c *Command) Receive(p *protocol.Packet) bool {
	c.packet = p
	c.ID = ID(p.Header.ID)
	c.rdwr()
	if p.HasFailed() {
		return false
	}
	if v, ok := c.Body.(validator); ok && v.validate() != nil {
		return false
	}
	return true
}

// PrepareToSend serializes the command once. Later calls leave the encoded
// bytes untouched, so one command can be sent to many peers. A received
// command is moved into a fresh outbound packet instead of being encoded
// again.
func (c *Command) PrepareToSend() {
	if c.ready {
		return
	}
	if !c.packet.IsSaving() {
		c.relay()
		return
	}
	c.rdwr()
}

// relay copies a received command into an outbound packet. The client id is
// written from the command; the rest of the body is copied byte for byte.
func (c *Command) relay() {
	in := c.packet
	out := protocol.NewPacket()
	out.Header.ID = in.Header.ID
	if id, ok := in.Sender(); ok {
		out.SetSender(id)
	}

	body := wire.NewReader(in.Payload())
	var sent uint32
	body.Uint32(&sent)

	cur := out.Cursor()
	cur.Uint32(&c.OurClientID)
	cur.AppendTail(body)
	c.packet = out
	c.ready = true
}

// Send serializes the command if needed and blocks until the whole packet
// is written to conn or the transfer fails.
func (c *Command) Send(conn protocol.Conn, timeout time.Duration) error {
	c.PrepareToSend()
	c.packet.Rewind()
	return c.packet.Send(conn, true, timeout)
}

// Execute applies the command to w. Without a world it is a no-op that
// allows the command to be discarded.
func (c *Command) Execute(w World) bool {
	if w == nil {
		return true
	}
	return w.Apply(c)
}

// Packet returns the packet the command owns.
func (c *Command) Packet() *protocol.Packet { return c.packet }

// Sender returns the slot the command arrived on, when received by a server.
func (c *Command) Sender() (uint32, bool) { return c.packet.Sender() }

// Prepared reports whether the command has been serialized.
func (c *Command) Prepared() bool { return c.ready }

func (c *Command) String() string {
	return fmt.Sprintf("%s(client=%d)", c.ID, c.OurClientID)
}

// ReadFromPacket builds the command matching the packet's header id and
// decodes the packet into it. Unknown ids and undecodable bodies fail closed.
func ReadFromPacket(p *protocol.Packet) (*Command, error) {
	id := ID(p.Header.ID)
	body := newBody(id)
	if body == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, p.Header.ID)
	}
	c := &Command{Body: body}
	if !c.Receive(p) {
		cause := p.Err()
		if cause == nil {
			if v, ok := body.(validator); ok {
				cause = v.validate()
			}
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, id, cause)
	}
	return c, nil
}

func newBody(id ID) Body {
	switch id {
	case GameInfo:
		return &GameInfoBody{}
	case Nick:
		return &NickBody{}
	case Chat:
		return &ChatBody{}
	case Join:
		return &JoinBody{}
	case Sync:
		return &SyncBody{}
	case Game:
		return &GameBody{}
	case Ready:
		return &ReadyBody{}
	case Tool:
		return &ToolBody{}
	case Check:
		return &CheckBody{}
	case PaksetInfo:
		return &PaksetInfoBody{}
	case Service:
		return &ServiceBody{}
	case AuthPlayer:
		return &AuthPlayerBody{}
	case ChangePlayer:
		return &ChangePlayerBody{}
	case Scenario:
		return &ScenarioBody{}
	case ScenarioRules:
		return &ScenarioRulesBody{}
	case Step:
		return &StepBody{}
	default:
		return nil
	}
}
