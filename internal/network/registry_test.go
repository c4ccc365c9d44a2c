package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/energizer-project/lockstep/internal/command"
	"github.com/energizer-project/lockstep/internal/protocol"
)

type fixedID uint32

func (f fixedID) ClientID() uint32 { return uint32(f) }

func pipeClient(t *testing.T, r *Registry) uint32 {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	id, err := r.AddClient(a, netip.MustParseAddr("192.0.2.10"))
	if err != nil {
		t.Fatalf("add client: %v", err)
	}
	return id
}

func checkCounters(t *testing.T, r *Registry) {
	t.Helper()
	var want Counters
	for _, s := range r.ClientList() {
		switch s.State {
		case Server:
			want.ServerSockets++
		case Connected:
			want.ConnectedClients++
		case Playing:
			want.ConnectedClients++
			want.PlayingClients++
		}
	}
	if got := r.Counters(); got != want {
		t.Fatalf("counters = %+v, slots say %+v", got, want)
	}
}

func TestCounterInvariant(t *testing.T) {
	r := NewRegistry(8)
	ids := []uint32{pipeClient(t, r), pipeClient(t, r), pipeClient(t, r)}
	checkCounters(t, r)

	steps := []struct {
		id    uint32
		state SlotState
	}{
		{ids[0], Playing},
		{ids[1], Playing},
		{ids[1], HasLeft},
		{ids[2], Admin},
		{ids[0], Playing},
		{ids[2], Playing},
		{ids[0], Connected},
	}
	for _, st := range steps {
		if err := r.ChangeState(st.id, st.state); err != nil {
			t.Fatalf("change %d to %s: %v", st.id, st.state, err)
		}
		checkCounters(t, r)
	}

	if r.PlayingClients() != 1 {
		t.Fatalf("playing = %d, want 1", r.PlayingClients())
	}

	r.Reset(ids[2])
	checkCounters(t, r)
	if r.PlayingClients() != 0 {
		t.Fatalf("reset did not leave playing")
	}

	if err := r.ChangeState(ids[2], Playing); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("inactive slot accepted a state change: %v", err)
	}
	if err := r.ChangeState(ids[0], Inactive); err == nil {
		t.Fatalf("direct transition to inactive should be refused")
	}
}

func TestSlotsAreNotReusedBeforeReset(t *testing.T) {
	r := NewRegistry(4)
	first := pipeClient(t, r)
	if err := r.ChangeState(first, HasLeft); err != nil {
		t.Fatalf("change state: %v", err)
	}

	second := pipeClient(t, r)
	if second == first {
		t.Fatalf("slot %d reused while pending reset", first)
	}

	r.Reset(first)
	third := pipeClient(t, r)
	if third != first {
		t.Fatalf("reset slot not reused: got %d, want %d", third, first)
	}
	checkCounters(t, r)
}

func TestRegistryFull(t *testing.T) {
	r := NewRegistry(1)
	pipeClient(t, r)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if _, err := r.AddClient(a, netip.Addr{}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestAddServerAfterClientRefused(t *testing.T) {
	r := NewRegistry(4)
	pipeClient(t, r)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if _, err := r.AddServer(ln); !errors.Is(err, ErrServerLocked) {
		t.Fatalf("expected ErrServerLocked, got %v", err)
	}
}

func TestResetRunsHooksAndDropsQueue(t *testing.T) {
	r := NewRegistry(4)
	id := pipeClient(t, r)

	var reset []uint32
	r.OnReset(func(id uint32) { reset = append(reset, id) })

	if err := r.Enqueue(id, command.New(&command.StepBody{}, nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if info, _ := r.Slot(id); info.Queued != 1 {
		t.Fatalf("queued = %d", info.Queued)
	}

	conn, _ := r.Conn(id)
	if !r.RemoveClient(conn) {
		t.Fatalf("remove client did not find the connection")
	}
	if len(reset) != 1 || reset[0] != id {
		t.Fatalf("hooks saw %v", reset)
	}
	if _, ok := r.Conn(id); ok {
		t.Fatalf("reset slot still exposes a socket")
	}
	info, _ := r.Slot(id)
	if info.State != Inactive || info.Queued != 0 || info.Nickname != "" {
		t.Fatalf("slot not cleared: %+v", info)
	}

	r.Reset(id)
	if len(reset) != 1 {
		t.Fatalf("resetting an inactive slot ran hooks again")
	}
}

func TestSendAllFilters(t *testing.T) {
	r := NewRegistry(8)
	playing := pipeClient(t, r)
	connected := pipeClient(t, r)
	left := pipeClient(t, r)

	r.ChangeState(playing, Playing)
	r.ChangeState(left, HasLeft)
	r.SetPlayerUnlocked(playing, 1<<2)

	tests := []struct {
		name        string
		onlyPlaying bool
		player      uint8
		want        int
	}{
		{"everyone", false, command.PlayerAll, 2},
		{"only playing", true, command.PlayerAll, 1},
		{"player 2", false, 2, 1},
		{"player 3", false, 3, 0},
	}
	for _, tt := range tests {
		cmd := command.New(&command.ChatBody{Message: tt.name}, nil)
		if got := r.SendAll(cmd, tt.onlyPlaying, tt.player); got != tt.want {
			t.Fatalf("%s: queued on %d slots, want %d", tt.name, got, tt.want)
		}
	}

	if info, _ := r.Slot(connected); info.Queued != 1 {
		t.Fatalf("connected slot queued %d", info.Queued)
	}
	if info, _ := r.Slot(left); info.Queued != 0 {
		t.Fatalf("slot that has left received %d packets", info.Queued)
	}
}

func TestSendAllQueuesIndependentCopies(t *testing.T) {
	r := NewRegistry(4)
	a := pipeClient(t, r)
	b := pipeClient(t, r)

	cmd := command.New(&command.NickBody{Nickname: "x"}, nil)
	r.SendAll(cmd, false, command.PlayerAll)

	pa, pb := r.slots[a].sendQueue[0], r.slots[b].sendQueue[0]
	if pa == pb || pa == cmd.Packet() || pb == cmd.Packet() {
		t.Fatalf("queued packets alias each other or the command")
	}
	if string(pa.Payload()) != string(cmd.Packet().Payload()) {
		t.Fatalf("queued copy differs from the command")
	}
}

func waitFor(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopbackTransfer(t *testing.T) {
	ctx := context.Background()
	lns, err := Listen(ctx, []string{"127.0.0.1"}, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := NewRegistry(8)
	defer server.Shutdown()
	sid, err := server.AddServer(lns[0])
	if err != nil || sid != 0 {
		t.Fatalf("add server: %d %v", sid, err)
	}

	conn, addr, err := Dial(ctx, lns[0].Addr().String(), 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if addr != netip.MustParseAddr("127.0.0.1") {
		t.Fatalf("remote addr = %s", addr)
	}
	client := NewRegistry(1)
	defer client.Shutdown()
	cid, err := client.AddClient(conn, addr)
	if err != nil || cid != 0 {
		t.Fatalf("client add: %d %v", cid, err)
	}

	var clientSlot uint32
	waitFor(t, "accept", func() bool {
		rs, err := server.Poll(20 * time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		for id := range rs.Servers() {
			accepted, err := server.Accept(id, 100*time.Millisecond)
			if err != nil {
				continue
			}
			clientSlot, err = server.AddClient(accepted, RemoteAddr(accepted))
			if err != nil {
				t.Fatalf("add accepted: %v", err)
			}
			return true
		}
		return false
	})
	if clientSlot != 1 {
		t.Fatalf("accepted slot = %d, want 1", clientSlot)
	}

	if err := client.Enqueue(cid, command.New(&command.NickBody{Nickname: "Alice"}, fixedID(1))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "flush", func() bool {
		if err := client.Flush(cid, 50*time.Millisecond); err != nil {
			t.Fatalf("flush: %v", err)
		}
		info, _ := client.Slot(cid)
		return info.Queued == 0
	})

	var got *protocol.Packet
	waitFor(t, "receive", func() bool {
		rs, err := server.Poll(20 * time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		for id := range rs.Clients() {
			p, err := server.Receive(id, 50*time.Millisecond)
			if err != nil {
				t.Fatalf("receive: %v", err)
			}
			if p != nil {
				got = p
				return true
			}
		}
		return false
	})

	if sender, ok := got.Sender(); !ok || sender != clientSlot {
		t.Fatalf("sender = %d %v", sender, ok)
	}
	cmd, err := command.ReadFromPacket(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if nick := cmd.Body.(*command.NickBody).Nickname; nick != "Alice" || cmd.OurClientID != 1 {
		t.Fatalf("got %q from client %d", nick, cmd.OurClientID)
	}

	client.Shutdown()
	waitFor(t, "hangup", func() bool {
		rs, _ := server.Poll(20 * time.Millisecond)
		for id := range rs.Clients() {
			if _, err := server.Receive(id, 50*time.Millisecond); err != nil {
				if !errors.Is(err, protocol.ErrClosed) && !errors.Is(err, protocol.ErrTransport) {
					t.Fatalf("unexpected error %v", err)
				}
				server.Reset(id)
				return true
			}
		}
		return false
	})
	if n := len(server.ConnectedClients()); n != 0 {
		t.Fatalf("%d clients still connected", n)
	}
}

func TestListenNothingBound(t *testing.T) {
	_, err := Listen(context.Background(), []string{"203.0.113.7"}, 0)
	if !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}
