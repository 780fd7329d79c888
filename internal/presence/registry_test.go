package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

type fakeDirectory struct {
	roles map[string]string
	staff map[string]bool
	err   error

	mu      sync.Mutex
	lookups int
}

func (d *fakeDirectory) UserRole(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	d.lookups++
	d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	role, ok := d.roles[userID]
	if !ok {
		return "", errors.New("unknown user")
	}
	return role, nil
}

func (d *fakeDirectory) IsStaffRole(ctx context.Context, roleKey string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.staff[roleKey], nil
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func newTestDirectory() *fakeDirectory {
	return &fakeDirectory{
		roles: map[string]string{
			"cust-1":  "customer",
			"staff-1": "agent",
			"staff-2": "agent",
		},
		staff: map[string]bool{"agent": true},
	}
}

func TestConnectTracksMultipleHandles(t *testing.T) {
	dir := newTestDirectory()
	reg := NewRegistry(dir, nil)

	first := &fakeConn{id: "conn-a"}
	second := &fakeConn{id: "conn-b"}

	if err := reg.Connect(context.Background(), "cust-1", first); err != nil {
		t.Fatalf("connect first: %v", err)
	}
	if err := reg.Connect(context.Background(), "cust-1", second); err != nil {
		t.Fatalf("connect second: %v", err)
	}

	conns := reg.ConnsFor("cust-1")
	if len(conns) != 2 {
		t.Fatalf("expected 2 handles, got %d", len(conns))
	}
	if dir.lookups != 1 {
		t.Fatalf("expected a single role lookup, got %d", dir.lookups)
	}
}

func TestDisconnectRemovesEntryWhenLastHandleGoes(t *testing.T) {
	reg := NewRegistry(newTestDirectory(), nil)

	first := &fakeConn{id: "conn-a"}
	second := &fakeConn{id: "conn-b"}
	if err := reg.Connect(context.Background(), "cust-1", first); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := reg.Connect(context.Background(), "cust-1", second); err != nil {
		t.Fatalf("connect: %v", err)
	}

	reg.Disconnect("cust-1", first)
	if got := len(reg.ConnsFor("cust-1")); got != 1 {
		t.Fatalf("expected 1 handle after first disconnect, got %d", got)
	}
	if !reg.IsOnline("cust-1") {
		t.Fatal("user should still be online with one handle left")
	}

	reg.Disconnect("cust-1", second)
	if reg.IsOnline("cust-1") {
		t.Fatal("entry should be gone after last handle disconnects")
	}
	if got := len(reg.ConnsFor("cust-1")); got != 0 {
		t.Fatalf("expected no handles, got %d", got)
	}
}

func TestOnlineStaffIDsFiltersByCachedRole(t *testing.T) {
	reg := NewRegistry(newTestDirectory(), nil)

	for _, tc := range []struct{ user, conn string }{
		{"cust-1", "c1"},
		{"staff-1", "s1"},
		{"staff-2", "s2"},
	} {
		if err := reg.Connect(context.Background(), tc.user, &fakeConn{id: tc.conn}); err != nil {
			t.Fatalf("connect %s: %v", tc.user, err)
		}
	}

	ids := reg.OnlineStaffIDs()
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "staff-1" || ids[1] != "staff-2" {
		t.Fatalf("unexpected staff ids: %v", ids)
	}
}

func TestConnectFailsWhenRoleLookupFails(t *testing.T) {
	dir := newTestDirectory()
	dir.err = errors.New("directory down")
	reg := NewRegistry(dir, nil)

	err := reg.Connect(context.Background(), "cust-1", &fakeConn{id: "c1"})
	if err == nil {
		t.Fatal("expected connect to fail when role lookup fails")
	}
	if reg.IsOnline("cust-1") {
		t.Fatal("failed connect must not leave a presence entry")
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	reg := NewRegistry(newTestDirectory(), nil)

	var wg sync.WaitGroup
	conns := make([]*fakeConn, 20)
	for i := range conns {
		conns[i] = &fakeConn{id: string(rune('a' + i))}
	}

	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			if err := reg.Connect(context.Background(), "staff-1", c); err != nil {
				t.Errorf("connect: %v", err)
			}
		}(c)
	}
	wg.Wait()

	if got := len(reg.ConnsFor("staff-1")); got != len(conns) {
		t.Fatalf("expected %d handles, got %d", len(conns), got)
	}

	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			reg.Disconnect("staff-1", c)
		}(c)
	}
	wg.Wait()

	if reg.IsOnline("staff-1") {
		t.Fatal("entry should be removed after all handles disconnect")
	}
}
