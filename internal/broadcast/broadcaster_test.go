package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"support-chat-backend/internal/presence"
)

type staticDirectory struct {
	staff map[string]bool
}

func (d *staticDirectory) UserRole(_ context.Context, userID string) (string, error) {
	if d.staff[userID] {
		return "support-agent", nil
	}
	return "customer", nil
}

func (d *staticDirectory) IsStaffRole(_ context.Context, roleKey string) (bool, error) {
	return roleKey == "support-agent", nil
}

type recordingConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, _ interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *recordingConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func newTestRegistry(t *testing.T, staff map[string]bool) *presence.Registry {
	t.Helper()
	return presence.NewRegistry(&staticDirectory{staff: staff}, nil)
}

func TestEmitToUserReachesAllHandles(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	phone := &recordingConn{id: "conn-phone"}
	laptop := &recordingConn{id: "conn-laptop"}
	if err := reg.Connect(ctx, "customer-1", phone); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := reg.Connect(ctx, "customer-1", laptop); err != nil {
		t.Fatalf("connect: %v", err)
	}

	b := New(reg, nil, "", nil)
	if err := b.EmitToUser("customer-1", "received_message", map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	for _, conn := range []*recordingConn{phone, laptop} {
		events := conn.received()
		if len(events) != 1 || events[0] != "received_message" {
			t.Fatalf("conn %s got %v, want one received_message", conn.ID(), events)
		}
	}
}

func TestEmitToUserOfflineIsNoop(t *testing.T) {
	reg := newTestRegistry(t, nil)
	b := New(reg, nil, "", nil)

	if err := b.EmitToUser("nobody-home", "received_message", nil); err != nil {
		t.Fatalf("emit to offline user: %v", err)
	}
}

func TestEmitToOnlineStaffSkipsCustomers(t *testing.T) {
	reg := newTestRegistry(t, map[string]bool{"staff-1": true, "staff-2": true})
	ctx := context.Background()

	agent1 := &recordingConn{id: "c1"}
	agent2 := &recordingConn{id: "c2"}
	customer := &recordingConn{id: "c3"}
	for userID, conn := range map[string]*recordingConn{
		"staff-1":    agent1,
		"staff-2":    agent2,
		"customer-1": customer,
	} {
		if err := reg.Connect(ctx, userID, conn); err != nil {
			t.Fatalf("connect %s: %v", userID, err)
		}
	}

	b := New(reg, nil, "", nil)
	if err := b.EmitToOnlineStaff("reload_ticket_list", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if got := agent1.received(); len(got) != 1 {
		t.Fatalf("staff-1 got %v, want one event", got)
	}
	if got := agent2.received(); len(got) != 1 {
		t.Fatalf("staff-2 got %v, want one event", got)
	}
	if got := customer.received(); len(got) != 0 {
		t.Fatalf("customer got %v, want none", got)
	}
}

func TestDeliverPreservesPayload(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	conn := &payloadConn{}
	if err := reg.Connect(ctx, "customer-1", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}

	b := New(reg, nil, "", nil)
	if err := b.EmitToUser("customer-1", "received_message", map[string]string{"ticketId": "t-1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	raw, ok := conn.payload.(json.RawMessage)
	if !ok {
		t.Fatalf("payload type %T, want json.RawMessage", conn.payload)
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["ticketId"] != "t-1" {
		t.Fatalf("payload %v, want ticketId t-1", decoded)
	}
}

type payloadConn struct {
	payload interface{}
}

func (c *payloadConn) ID() string { return "payload-conn" }

func (c *payloadConn) Send(_ string, payload interface{}) error {
	c.payload = payload
	return nil
}
