package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"support-chat-backend/internal/auth"
	"support-chat-backend/internal/broadcast"
	"support-chat-backend/internal/jwt"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/presence"
	"support-chat-backend/internal/service/chat"
	"support-chat-backend/internal/service/ticket"

	gorilla "github.com/gorilla/websocket"
)

type stubDirectory struct{}

func (stubDirectory) UserRole(_ context.Context, userID string) (string, error) {
	if strings.HasPrefix(userID, "staff-") {
		return "support-agent", nil
	}
	return "customer", nil
}

func (stubDirectory) IsStaffRole(_ context.Context, roleKey string) (bool, error) {
	return roleKey == "support-agent", nil
}

type stubTickets struct {
	ticket model.TicketItem
}

func (s *stubTickets) Get(_ context.Context, _ string) (model.TicketItem, error) {
	return s.ticket, nil
}

func (s *stubTickets) TicketForCustomer(_ context.Context, _, _ string) (model.TicketItem, bool, error) {
	return s.ticket, false, nil
}

func (s *stubTickets) RecordCustomerMessage(_ context.Context, params ticket.CustomerMessageParams) (ticket.CustomerMessageResult, error) {
	return ticket.CustomerMessageResult{
		Ticket: s.ticket,
		Message: model.TicketMessageItem{
			TicketID: s.ticket.TicketID,
			SenderID: params.CustomerID,
			Content:  params.Content,
		},
	}, nil
}

func (s *stubTickets) RecordStaffMessage(_ context.Context, params ticket.StaffMessageParams) (ticket.StaffMessageResult, error) {
	return ticket.StaffMessageResult{
		Ticket: s.ticket,
		Message: model.TicketMessageItem{
			TicketID: s.ticket.TicketID,
			SenderID: params.StaffID,
			Content:  params.Content,
		},
	}, nil
}

func (s *stubTickets) Claim(_ context.Context, _ ticket.ClaimParams) (model.TicketItem, error) {
	return s.ticket, nil
}

func (s *stubTickets) Close(_ context.Context, _, _ string) (model.TicketItem, error) {
	return s.ticket, nil
}

func (s *stubTickets) MarkReadStaff(_ context.Context, _, _ string) (model.TicketItem, error) {
	return s.ticket, nil
}

func (s *stubTickets) MarkReadCustomer(_ context.Context, _ string) (model.TicketItem, error) {
	return s.ticket, nil
}

func (s *stubTickets) ListTickets(_ context.Context, _ int) ([]model.TicketItem, error) {
	return []model.TicketItem{s.ticket}, nil
}

func (s *stubTickets) ListMessages(_ context.Context, _ string, _ int) ([]model.TicketMessageItem, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *presence.Registry) {
	t.Helper()

	jwt.SetRoleSecret(jwt.RoleCustomer, "customer-test-secret")
	jwt.SetRoleSecret(jwt.RoleStaff, "staff-test-secret")

	tickets := &stubTickets{ticket: model.TicketItem{
		TicketID:   "ticket-1",
		CustomerID: "customer-1",
		Status:     model.TicketStatusPending,
	}}

	reg := presence.NewRegistry(stubDirectory{}, nil)
	emitter := broadcast.New(reg, nil, "", nil)
	router := chat.NewRouter(tickets, emitter, nil, t.TempDir(), nil)
	gateway := NewGateway(auth.NewGuard(), reg, router, tickets, nil)

	srv := httptest.NewServer(http.HandlerFunc(gateway.ServeWS))
	t.Cleanup(srv.Close)
	return srv, reg
}

func signToken(t *testing.T, userID string, role jwt.Role) string {
	t.Helper()
	token, err := jwt.CreateToken(jwt.User{
		Id:     userID,
		Email:  userID + "@example.com",
		Name:   userID,
		Status: model.UserStatusVerified,
	}, role, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return token
}

func dial(t *testing.T, srv *httptest.Server, token string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *gorilla.Conn, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readFrame skips unrelated events until the wanted one arrives.
func readFrame(t *testing.T, conn *gorilla.Conn, wantEvent string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", wantEvent, err)
		}
		if frame.Event == wantEvent {
			return frame.Data
		}
		if time.Now().After(deadline) {
			t.Fatalf("no %s frame before deadline", wantEvent)
		}
	}
}

func waitOnline(t *testing.T, reg *presence.Registry, userID string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if reg.IsOnline(userID) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never came online", userID)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=not-a-token"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("handshake succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response %+v, want 401", resp)
	}
}

func TestCustomerMessageReachesStaffAndEchoes(t *testing.T) {
	srv, reg := newTestServer(t)

	staffConn := dial(t, srv, signToken(t, "staff-1", jwt.RoleStaff))
	customerConn := dial(t, srv, signToken(t, "customer-1", jwt.RoleCustomer))
	waitOnline(t, reg, "staff-1")
	waitOnline(t, reg, "customer-1")

	writeFrame(t, customerConn, EventSendMessage, SendMessagePayload{Content: "Hello, I need help"})

	var got chat.MessagePayload
	if err := json.Unmarshal(readFrame(t, staffConn, chat.EventReceivedMessage), &got); err != nil {
		t.Fatalf("unmarshal staff payload: %v", err)
	}
	if got.Message.Content != "Hello, I need help" {
		t.Fatalf("staff saw content %q", got.Message.Content)
	}

	if err := json.Unmarshal(readFrame(t, customerConn, chat.EventReceivedMessage), &got); err != nil {
		t.Fatalf("unmarshal echo payload: %v", err)
	}
	if got.Message.SenderID != "customer-1" {
		t.Fatalf("echo sender %q, want customer-1", got.Message.SenderID)
	}

	// The staff list refresh rides along with the message.
	readFrame(t, staffConn, chat.EventReloadTicketList)
}

func TestStaffOnlyEventsRejectCustomers(t *testing.T) {
	srv, reg := newTestServer(t)

	customerConn := dial(t, srv, signToken(t, "customer-1", jwt.RoleCustomer))
	waitOnline(t, reg, "customer-1")

	writeFrame(t, customerConn, EventStaffAssignTicket, AssignTicketPayload{TicketID: "ticket-1"})

	var payload ErrorPayload
	if err := json.Unmarshal(readFrame(t, customerConn, EventError), &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != "forbidden" {
		t.Fatalf("error code %q, want forbidden", payload.Code)
	}
}

func TestStaffListTickets(t *testing.T) {
	srv, reg := newTestServer(t)

	staffConn := dial(t, srv, signToken(t, "staff-1", jwt.RoleStaff))
	waitOnline(t, reg, "staff-1")

	writeFrame(t, staffConn, EventListTickets, ListTicketsPayload{})

	var payload struct {
		Tickets []model.TicketItem `json:"tickets"`
	}
	if err := json.Unmarshal(readFrame(t, staffConn, EventTicketList), &payload); err != nil {
		t.Fatalf("unmarshal ticket list: %v", err)
	}
	if len(payload.Tickets) != 1 || payload.Tickets[0].TicketID != "ticket-1" {
		t.Fatalf("ticket list %+v, want ticket-1", payload.Tickets)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	srv, reg := newTestServer(t)

	customerConn := dial(t, srv, signToken(t, "customer-1", jwt.RoleCustomer))
	waitOnline(t, reg, "customer-1")

	if err := customerConn.WriteMessage(gorilla.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(readFrame(t, customerConn, EventError), &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != "validation_error" {
		t.Fatalf("error code %q, want validation_error", payload.Code)
	}

	// Connection still works afterwards.
	writeFrame(t, customerConn, EventSendMessage, SendMessagePayload{Content: "still here"})
	readFrame(t, customerConn, chat.EventReceivedMessage)
}
