package command

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/lockstep/internal/protocol"
)

type fixedIdentity uint32

func (f fixedIdentity) ClientID() uint32 { return uint32(f) }

// bufConn is an in-memory socket; reading an empty buffer acts like a
// deadline expiry.
type bufConn struct{ bytes.Buffer }

func (c *bufConn) Read(p []byte) (int, error) {
	if c.Len() == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return c.Buffer.Read(p)
}

func (c *bufConn) SetReadDeadline(time.Time) error  { return nil }
func (c *bufConn) SetWriteDeadline(time.Time) error { return nil }

func transfer(t *testing.T, cmd *Command) *Command {
	t.Helper()
	conn := &bufConn{}
	if err := cmd.Send(conn, time.Second); err != nil {
		t.Fatalf("send %s: %v", cmd.ID, err)
	}
	in := protocol.NewIncoming()
	if err := in.Recv(conn, time.Millisecond); err != nil {
		t.Fatalf("recv %s: %v", cmd.ID, err)
	}
	if !in.IsReady() {
		t.Fatalf("packet for %s not complete", cmd.ID)
	}
	got, err := ReadFromPacket(in)
	if err != nil {
		t.Fatalf("decode %s: %v", cmd.ID, err)
	}
	return got
}

func maxString() string { return strings.Repeat("W", 255) }

func fullHash() PasswordHash {
	var h PasswordHash
	for i := range h {
		h[i] = 0xFF
	}
	return h
}

func TestRoundTripAllVariants(t *testing.T) {
	stampMax := WorldStamp{SyncStep: ^uint32(0), MapCounter: ^uint32(0)}
	checkMax := Checklist{^uint32(0), ^uint32(0), ^uint32(0), ^uint32(0)}
	var sumMax [20]byte
	for i := range sumMax {
		sumMax[i] = 0xFF
	}

	tests := []struct {
		name string
		min  Body
		max  Body
	}{
		{"gameinfo", &GameInfoBody{}, &GameInfoBody{Len: ^uint32(0), Result: 0xFF}},
		{"nick", &NickBody{}, &NickBody{Nickname: maxString()}},
		{"chat", &ChatBody{}, &ChatBody{Message: maxString(), PlayerNr: 0xFF, ClientName: maxString(), Destination: maxString()}},
		{"join", &JoinBody{}, &JoinBody{Nickname: maxString(), ClientID: ^uint32(0), Answer: 0xFF}},
		{"sync", &SyncBody{}, &SyncBody{WorldStamp: stampMax, ClientID: ^uint32(0), NewMapCounter: ^uint32(0)}},
		{"game", &GameBody{}, &GameBody{Len: ^uint32(0)}},
		{"ready", &ReadyBody{}, &ReadyBody{SyncStep: ^uint32(0), MapCounter: ^uint32(0), Checklist: checkMax}},
		{"tool", &ToolBody{}, &ToolBody{
			WorldStamp: stampMax, PlayerNr: 0xFF, ToolID: 0xFFFF,
			Pos: Pos{X: -32768, Y: 32767, Z: -128}, DefaultParam: maxString(),
			Init: true, CallbackID: ^uint32(0), Flags: 0xFF,
		}},
		{"check", &CheckBody{}, &CheckBody{WorldStamp: stampMax, ServerSyncStep: ^uint32(0), ServerChecklist: checkMax}},
		{"pakset", &PaksetInfoBody{}, &PaksetInfoBody{Flag: 0xFF, Name: maxString(), Checksum: sumMax}},
		{"service", &ServiceBody{}, &ServiceBody{Op: OpLockCompany, Number: ^uint32(0), Text: maxString()}},
		{"service clients", &ServiceBody{Op: OpGetClientList}, &ServiceBody{
			Op: OpGetClientList, Number: 1, Text: "x",
			Clients: []ClientInfo{
				{ID: 1, State: 3, Address: "10.0.0.1", Nickname: "Alice", PlayerUnlocked: 0xFFFF},
				{ID: ^uint32(0), State: 0xFF, Address: "::1", Nickname: maxString()},
			},
		}},
		{"service blacklist", &ServiceBody{Op: OpGetBlackList}, &ServiceBody{
			Op: OpGetBlackList, Blacklist: []string{"10.0.0.0/8", "2001:db8::/32"},
		}},
		{"service companies", &ServiceBody{Op: OpGetCompanyList}, &ServiceBody{
			Op: OpGetCompanyInfo, Companies: []CompanyInfo{{PlayerNr: 15, Name: maxString(), Locked: true}},
		}},
		{"auth", &AuthPlayerBody{}, &AuthPlayerBody{Hash: fullHash(), PlayerNr: 0xFF, PlayerUnlocked: 0xFFFF}},
		{"change player", &ChangePlayerBody{}, &ChangePlayerBody{WorldStamp: stampMax, Cmd: 0xFF, PlayerNr: 0xFF, Param: 0xFFFF, Scripted: true}},
		{"scenario", &ScenarioBody{}, &ScenarioBody{WorldStamp: stampMax, What: 0xFFFF, Function: maxString(), Result: maxString()}},
		{"scenario rules", &ScenarioRulesBody{}, &ScenarioRulesBody{WorldStamp: stampMax, ToolID: 0xFFFF, PlayerNr: 0xFF, Forbid: true, Error: maxString()}},
		{"step", &StepBody{}, &StepBody{WorldStamp: stampMax}},
	}

	for _, tt := range tests {
		for _, variant := range []struct {
			label string
			body  Body
			ident Identity
		}{
			{"min", tt.min, fixedIdentity(0)},
			{"max", tt.max, fixedIdentity(^uint32(0))},
		} {
			t.Run(tt.name+"/"+variant.label, func(t *testing.T) {
				sent := New(variant.body, variant.ident)
				got := transfer(t, sent)

				if got.ID != sent.ID {
					t.Fatalf("id = %s, want %s", got.ID, sent.ID)
				}
				if got.OurClientID != sent.OurClientID {
					t.Fatalf("client id = %d, want %d", got.OurClientID, sent.OurClientID)
				}
				if !reflect.DeepEqual(got.Body, sent.Body) {
					t.Fatalf("body mismatch:\n got  %+v\n want %+v", got.Body, sent.Body)
				}
			})
		}
	}
}

func TestClientIDIsFirstInBody(t *testing.T) {
	bodies := []Body{
		&NickBody{Nickname: "n"}, &ToolBody{WorldStamp: WorldStamp{SyncStep: 5}},
		&ServiceBody{Op: OpKickClient}, &StepBody{},
	}
	for _, body := range bodies {
		cmd := New(body, fixedIdentity(0xA1B2C3D4))
		cmd.PrepareToSend()
		payload := cmd.Packet().Payload()
		if len(payload) < 4 || binary.LittleEndian.Uint32(payload) != 0xA1B2C3D4 {
			t.Fatalf("%s: client id not at body start: %x", body.ID(), payload)
		}
	}
}

func TestPrepareToSendIsIdempotent(t *testing.T) {
	body := &ChatBody{Message: "hi", ClientName: "bob"}
	cmd := New(body, fixedIdentity(4))
	cmd.PrepareToSend()
	first := append([]byte(nil), cmd.Packet().Payload()...)

	body.Message = "changed after prepare"
	cmd.OurClientID = 99
	cmd.PrepareToSend()

	if !bytes.Equal(first, cmd.Packet().Payload()) {
		t.Fatalf("second prepare re-encoded the command")
	}
	if binary.LittleEndian.Uint32(cmd.Packet().Payload()) != 4 {
		t.Fatalf("encoded client id changed")
	}
	if cmd.Packet().Header.ID != uint16(Chat) {
		t.Fatalf("header id = %d", cmd.Packet().Header.ID)
	}
}

func TestSendTwiceToDifferentPeers(t *testing.T) {
	cmd := New(&NickBody{Nickname: "Alice"}, fixedIdentity(1))
	a, b := &bufConn{}, &bufConn{}
	if err := cmd.Send(a, time.Second); err != nil {
		t.Fatalf("send a: %v", err)
	}
	if err := cmd.Send(b, time.Second); err != nil {
		t.Fatalf("send b: %v", err)
	}
	if a.Len() == 0 || !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("peers received different bytes")
	}
}

func TestRelayReceivedCommand(t *testing.T) {
	orig := New(&ToolBody{
		WorldStamp:   WorldStamp{SyncStep: 7, MapCounter: 2},
		PlayerNr:     3,
		ToolID:       42,
		DefaultParam: "x",
		CallbackID:   9,
	}, fixedIdentity(1))
	orig.PrepareToSend()
	wantBody := append([]byte(nil), orig.Packet().Payload()...)

	got := transfer(t, orig)
	got.Packet().SetSender(1)
	got.PrepareToSend()

	if !got.Prepared() || !got.Packet().IsSaving() {
		t.Fatalf("relayed command is not an outbound packet")
	}
	if !bytes.Equal(got.Packet().Payload(), wantBody) {
		t.Fatalf("relayed body differs:\n got %x\nwant %x", got.Packet().Payload(), wantBody)
	}
	if tool := got.Body.(*ToolBody); tool.ToolID != 42 || tool.DefaultParam != "x" || got.OurClientID != 1 {
		t.Fatalf("decoded fields clobbered: %+v client=%d", tool, got.OurClientID)
	}
	if sender, ok := got.Sender(); !ok || sender != 1 {
		t.Fatalf("sender lost: %d %v", sender, ok)
	}

	a, b := &bufConn{}, &bufConn{}
	if err := got.Send(a, time.Second); err != nil {
		t.Fatalf("relay to a: %v", err)
	}
	if err := got.Send(b, time.Second); err != nil {
		t.Fatalf("relay to b: %v", err)
	}
	in := protocol.NewIncoming()
	if err := in.Recv(b, time.Millisecond); err != nil {
		t.Fatalf("recv: %v", err)
	}
	again, err := ReadFromPacket(in)
	if err != nil {
		t.Fatalf("decode relayed: %v", err)
	}
	if !reflect.DeepEqual(again.Body, orig.Body) || again.OurClientID != 1 {
		t.Fatalf("relayed %+v, want %+v", again.Body, orig.Body)
	}
}

func TestRelayWritesCurrentClientID(t *testing.T) {
	got := transfer(t, New(&ChatBody{Message: "hi"}, fixedIdentity(5)))
	got.OurClientID = 2
	got.PrepareToSend()
	if id := binary.LittleEndian.Uint32(got.Packet().Payload()); id != 2 {
		t.Fatalf("relayed client id = %d, want 2", id)
	}
}

func TestReadFromPacketUnknownID(t *testing.T) {
	p := protocol.NewPacket()
	p.Header.ID = uint16(Count) + 5
	conn := &bufConn{}
	if err := p.Send(conn, true, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	in := protocol.NewIncoming()
	if err := in.Recv(conn, time.Millisecond); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if _, err := ReadFromPacket(in); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}

	p = protocol.NewPacket()
	p.Header.ID = uint16(Invalid)
	conn.Reset()
	if err := p.Send(conn, true, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	in = protocol.NewIncoming()
	if err := in.Recv(conn, time.Millisecond); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if _, err := ReadFromPacket(in); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("invalid id should fail closed, got %v", err)
	}
}

func TestReadFromPacketTruncatedBody(t *testing.T) {
	p := protocol.NewPacket()
	p.Header.ID = uint16(Nick)
	clientID := uint32(1)
	p.Cursor().Uint32(&clientID)
	length := uint16(40)
	p.Cursor().Uint16(&length)
	conn := &bufConn{}
	if err := p.Send(conn, true, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	in := protocol.NewIncoming()
	if err := in.Recv(conn, time.Millisecond); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if _, err := ReadFromPacket(in); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestUnknownServiceOperationFailsClosed(t *testing.T) {
	cmd := New(&ServiceBody{Op: OpCount + 3}, fixedIdentity(2))
	conn := &bufConn{}
	if err := cmd.Send(conn, time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	in := protocol.NewIncoming()
	if err := in.Recv(conn, time.Millisecond); err != nil {
		t.Fatalf("recv: %v", err)
	}
	_, err := ReadFromPacket(in)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestOversizedCommandOverflows(t *testing.T) {
	cmd := New(&ChatBody{Message: strings.Repeat("m", 9000)}, fixedIdentity(1))
	conn := &bufConn{}
	err := cmd.Send(conn, time.Second)
	if !errors.Is(err, protocol.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if !cmd.Packet().Cursor().Overflow() {
		t.Fatalf("cursor overflow flag not set")
	}
	if conn.Len() != 0 {
		t.Fatalf("%d bytes reached the socket", conn.Len())
	}
}

type recordingWorld struct {
	applied []*Command
	keep    bool
}

func (w *recordingWorld) Apply(cmd *Command) bool {
	w.applied = append(w.applied, cmd)
	return !w.keep
}

func TestExecute(t *testing.T) {
	cmd := New(&StepBody{}, nil)
	if !cmd.Execute(nil) {
		t.Fatalf("execute without a world should allow discarding")
	}
	w := &recordingWorld{keep: true}
	if cmd.Execute(w) {
		t.Fatalf("world asked to retain the command")
	}
	if len(w.applied) != 1 || w.applied[0] != cmd {
		t.Fatalf("world did not see the command")
	}
}

func TestPasswordHash(t *testing.T) {
	var zero PasswordHash
	if !zero.Empty() {
		t.Fatalf("zero hash should be empty")
	}
	if fullHash().Empty() {
		t.Fatalf("all-0xFF hash is not empty")
	}
	a, b := HashPassword("secret"), HashPassword("secret")
	if !a.Equal(b) || a.Equal(HashPassword("other")) {
		t.Fatalf("hash equality broken")
	}
	if len(a.String()) != 40 {
		t.Fatalf("hex form should be 40 chars, got %q", a.String())
	}
}

func TestIDNames(t *testing.T) {
	if Nick.String() != "nick" || OpLockCompany.String() != "lock_company" {
		t.Fatalf("unexpected names %s %s", Nick, OpLockCompany)
	}
	if ID(999).String() != "unknown(999)" {
		t.Fatalf("unexpected unknown name %s", ID(999))
	}
	if OpLockCompany != 15 || OpLoginAdmin != 0 {
		t.Fatalf("service operation numbering changed")
	}
}
