package db

import (
	"context"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/network"
)

func openTemp(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "data", "lockstep.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBanStoreRoundTrip(t *testing.T) {
	store := NewBanStore(openTemp(t))

	a := netip.MustParsePrefix("10.0.0.0/8")
	b := netip.MustParsePrefix("2001:db8::1/128")
	for _, p := range []netip.Prefix{a, b, a} {
		if err := store.SavePrefix(p); err != nil {
			t.Fatalf("SavePrefix(%s): %v", p, err)
		}
	}

	got, err := store.LoadPrefixes()
	if err != nil {
		t.Fatalf("LoadPrefixes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %v, want two prefixes", got)
	}

	if err := store.DeletePrefix(a); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	got, _ = store.LoadPrefixes()
	if len(got) != 1 || got[0] != b {
		t.Fatalf("after delete loaded %v, want [%s]", got, b)
	}
}

func TestBlacklistSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bans.db")

	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	bl := network.NewBlacklist()
	if err := bl.Attach(NewBanStore(d)); err != nil {
		t.Fatal(err)
	}
	bl.Add(netip.MustParsePrefix("192.0.2.0/24"))
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	reloaded := network.NewBlacklist()
	if err := reloaded.Attach(NewBanStore(d)); err != nil {
		t.Fatal(err)
	}
	if !reloaded.Contains(netip.MustParseAddr("192.0.2.77")) {
		t.Fatal("ban lost across reopen")
	}
}

func TestAuditLogRecordsBusEvents(t *testing.T) {
	audit := NewAuditLog(openTemp(t))
	bus := events.NewEventBus()
	defer bus.Stop()
	audit.Subscribe(bus)

	bus.Emit(context.Background(), events.NewEvent(events.EventBanChanged, "test",
		events.BanPayload{Prefix: "203.0.113.0/24", Banned: true, By: 2}))
	bus.Emit(context.Background(), events.NewEvent(events.EventClientConnected, "test",
		events.ClientPayload{ID: 3}))

	deadline := time.Now().Add(2 * time.Second)
	var entries []AuditEntry
	for time.Now().Before(deadline) {
		entries, _ = audit.Recent(10)
		if len(entries) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want only the ban", entries)
	}
	e := entries[0]
	if e.Type != string(events.EventBanChanged) || e.ClientID != 2 || e.Message != "banned 203.0.113.0/24" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestAuditPrune(t *testing.T) {
	d := openTemp(t)
	audit := NewAuditLog(d)
	if err := audit.Record("admin_login", 1, "old"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec("UPDATE audit SET created_at = datetime('now', '-40 days')"); err != nil {
		t.Fatal(err)
	}
	audit.Record("admin_login", 1, "new")

	if err := audit.Prune(30); err != nil {
		t.Fatal(err)
	}
	entries, _ := audit.Recent(0)
	if len(entries) != 1 || entries[0].Message != "new" {
		t.Fatalf("entries = %+v", entries)
	}
}
