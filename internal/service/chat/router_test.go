package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"support-chat-backend/internal/attachment"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/service/ticket"
)

type fakeTickets struct {
	ticket model.TicketItem

	customerCalls []ticket.CustomerMessageParams
	staffCalls    []ticket.StaffMessageParams
	customerErr   error
	staffErr      error
}

func (f *fakeTickets) Get(_ context.Context, _ string) (model.TicketItem, error) {
	return f.ticket, nil
}

func (f *fakeTickets) TicketForCustomer(_ context.Context, _, _ string) (model.TicketItem, bool, error) {
	return f.ticket, false, nil
}

func (f *fakeTickets) RecordCustomerMessage(_ context.Context, params ticket.CustomerMessageParams) (ticket.CustomerMessageResult, error) {
	f.customerCalls = append(f.customerCalls, params)
	if f.customerErr != nil {
		return ticket.CustomerMessageResult{}, f.customerErr
	}
	return ticket.CustomerMessageResult{
		Ticket: f.ticket,
		Message: model.TicketMessageItem{
			TicketID:    f.ticket.TicketID,
			Content:     params.Content,
			Attachments: params.Attachments,
		},
	}, nil
}

func (f *fakeTickets) RecordStaffMessage(_ context.Context, params ticket.StaffMessageParams) (ticket.StaffMessageResult, error) {
	f.staffCalls = append(f.staffCalls, params)
	if f.staffErr != nil {
		return ticket.StaffMessageResult{}, f.staffErr
	}
	return ticket.StaffMessageResult{
		Ticket: f.ticket,
		Message: model.TicketMessageItem{
			TicketID:    f.ticket.TicketID,
			Content:     params.Content,
			Attachments: params.Attachments,
		},
	}, nil
}

func (f *fakeTickets) Claim(_ context.Context, _ ticket.ClaimParams) (model.TicketItem, error) {
	return f.ticket, nil
}

func (f *fakeTickets) Close(_ context.Context, _, _ string) (model.TicketItem, error) {
	return f.ticket, nil
}

func (f *fakeTickets) MarkReadStaff(_ context.Context, _, _ string) (model.TicketItem, error) {
	return f.ticket, nil
}

func (f *fakeTickets) MarkReadCustomer(_ context.Context, _ string) (model.TicketItem, error) {
	return f.ticket, nil
}

type emission struct {
	userID string
	event  string
}

type recordingEmitter struct {
	user  []emission
	staff []string
}

func (e *recordingEmitter) EmitToUser(userID, event string, _ interface{}) error {
	e.user = append(e.user, emission{userID: userID, event: event})
	return nil
}

func (e *recordingEmitter) EmitToOnlineStaff(event string, _ interface{}) error {
	e.staff = append(e.staff, event)
	return nil
}

func (e *recordingEmitter) staffCount(event string) int {
	n := 0
	for _, got := range e.staff {
		if got == event {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) userGot(userID, event string) bool {
	for _, em := range e.user {
		if em.userID == userID && em.event == event {
			return true
		}
	}
	return false
}

type stubIngestor struct {
	records []model.AttachmentRecord
	err     error

	stagedSeen int
}

func (s *stubIngestor) Ingest(_ context.Context, _ string, staged *attachment.Staged) ([]model.AttachmentRecord, error) {
	s.stagedSeen = len(staged.Files())
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func scratchFileCount(t *testing.T, dir string) int {
	t.Helper()
	count := 0
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk scratch dir: %v", err)
	}
	return count
}

func testTicket() model.TicketItem {
	return model.TicketItem{
		TicketID:   "ticket-1",
		CustomerID: "customer-1",
		Status:     model.TicketStatusPending,
	}
}

func TestCustomerMessageFansOutToStaff(t *testing.T) {
	tickets := &fakeTickets{ticket: testTicket()}
	emitter := &recordingEmitter{}
	router := NewRouter(tickets, emitter, &stubIngestor{}, t.TempDir(), nil)

	result, err := router.HandleCustomerMessage(context.Background(), CustomerMessageInput{
		CustomerID:   "customer-1",
		CustomerName: "Ada",
		Content:      "Hello, I need help",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Ticket.TicketID != "ticket-1" {
		t.Fatalf("ticket %q, want ticket-1", result.Ticket.TicketID)
	}

	if !emitter.userGot("customer-1", EventReceivedMessage) {
		t.Fatal("customer's own handles did not get the echo")
	}
	if emitter.staffCount(EventReceivedMessage) != 1 {
		t.Fatalf("staff received_message count %d, want 1", emitter.staffCount(EventReceivedMessage))
	}
	if emitter.staffCount(EventReloadTicketList) != 1 {
		t.Fatalf("staff reload_ticket_list count %d, want 1", emitter.staffCount(EventReloadTicketList))
	}
	if emitter.staffCount(EventReloadTicketImages) != 0 {
		t.Fatal("reload_ticket_images emitted for a text-only message")
	}
}

func TestCustomerMessageWithAttachments(t *testing.T) {
	dir := t.TempDir()
	tickets := &fakeTickets{ticket: testTicket()}
	emitter := &recordingEmitter{}
	ingestor := &stubIngestor{records: []model.AttachmentRecord{
		{ID: "att-1", URL: "https://bucket.s3.eu-west-1.amazonaws.com/tickets/ticket-1/a.png", Type: "image/png"},
	}}
	router := NewRouter(tickets, emitter, ingestor, dir, nil)

	_, err := router.HandleCustomerMessage(context.Background(), CustomerMessageInput{
		CustomerID:   "customer-1",
		CustomerName: "Ada",
		Content:      "screenshot attached",
		Attachments:  []attachment.Input{{Filename: "a.png", Data: []byte{0x89, 0x50}}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if ingestor.stagedSeen != 1 {
		t.Fatalf("ingestor saw %d staged files, want 1", ingestor.stagedSeen)
	}
	if len(tickets.customerCalls) != 1 || len(tickets.customerCalls[0].Attachments) != 1 {
		t.Fatalf("recorded attachments %+v, want the uploaded record", tickets.customerCalls)
	}
	if emitter.staffCount(EventReloadTicketImages) != 1 {
		t.Fatal("reload_ticket_images not emitted")
	}
	if n := scratchFileCount(t, dir); n != 0 {
		t.Fatalf("%d scratch files left after ingest, want 0", n)
	}
}

func TestUploadFailureDegradesToTextOnly(t *testing.T) {
	dir := t.TempDir()
	tickets := &fakeTickets{ticket: testTicket()}
	emitter := &recordingEmitter{}
	router := NewRouter(tickets, emitter, &stubIngestor{err: errors.New("s3 unreachable")}, dir, nil)

	_, err := router.HandleCustomerMessage(context.Background(), CustomerMessageInput{
		CustomerID:  "customer-1",
		Content:     "see the attached log",
		Attachments: []attachment.Input{{Filename: "app.log", Data: []byte("boom")}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(tickets.customerCalls) != 1 {
		t.Fatalf("record calls %d, want 1", len(tickets.customerCalls))
	}
	call := tickets.customerCalls[0]
	if len(call.Attachments) != 0 {
		t.Fatalf("attachments %+v recorded despite failed upload", call.Attachments)
	}
	if call.Content != "see the attached log" {
		t.Fatalf("content %q, want original text", call.Content)
	}
	if n := scratchFileCount(t, dir); n != 0 {
		t.Fatalf("%d scratch files left after failed upload, want 0", n)
	}
}

func TestUploadFailureWithoutTextFails(t *testing.T) {
	dir := t.TempDir()
	tickets := &fakeTickets{ticket: testTicket()}
	emitter := &recordingEmitter{}
	router := NewRouter(tickets, emitter, &stubIngestor{err: errors.New("s3 unreachable")}, dir, nil)

	_, err := router.HandleCustomerMessage(context.Background(), CustomerMessageInput{
		CustomerID:  "customer-1",
		Attachments: []attachment.Input{{Filename: "a.png", Data: []byte{1}}},
	})
	if err == nil {
		t.Fatal("expected error for attachment-only message with failed upload")
	}
	if len(tickets.customerCalls) != 0 {
		t.Fatal("message recorded despite failed attachment-only upload")
	}
	if len(emitter.user)+len(emitter.staff) != 0 {
		t.Fatal("events emitted despite failure")
	}
	if n := scratchFileCount(t, dir); n != 0 {
		t.Fatalf("%d scratch files left, want 0", n)
	}
}

func TestStaffMessageNotifiesCustomer(t *testing.T) {
	tk := testTicket()
	tk.Status = model.TicketStatusAssigned
	tk.AssignedTo = "staff-1"
	tickets := &fakeTickets{ticket: tk}
	emitter := &recordingEmitter{}
	router := NewRouter(tickets, emitter, &stubIngestor{}, t.TempDir(), nil)

	_, err := router.HandleStaffMessage(context.Background(), StaffMessageInput{
		TicketID:  "ticket-1",
		StaffID:   "staff-1",
		StaffName: "Grace",
		Content:   "On it",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if !emitter.userGot("customer-1", EventReceivedMessage) {
		t.Fatal("customer did not get received_message")
	}
	if emitter.staffCount(EventReloadConversation) != 1 {
		t.Fatal("staff did not get reload_conversation")
	}
}

func TestStaffMessageErrorEmitsNothing(t *testing.T) {
	tickets := &fakeTickets{ticket: testTicket(), staffErr: errors.New("forbidden")}
	emitter := &recordingEmitter{}
	router := NewRouter(tickets, emitter, &stubIngestor{}, t.TempDir(), nil)

	_, err := router.HandleStaffMessage(context.Background(), StaffMessageInput{
		TicketID: "ticket-1",
		StaffID:  "staff-2",
		Content:  "hi",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(emitter.user)+len(emitter.staff) != 0 {
		t.Fatal("events emitted for rejected message")
	}
}

func TestClaimAndCloseRefreshBothSides(t *testing.T) {
	tickets := &fakeTickets{ticket: testTicket()}
	emitter := &recordingEmitter{}
	router := NewRouter(tickets, emitter, &stubIngestor{}, t.TempDir(), nil)

	if _, err := router.HandleClaim(context.Background(), ticket.ClaimParams{TicketID: "ticket-1", ActorID: "staff-1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := router.HandleClose(context.Background(), "ticket-1", "staff-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	if emitter.staffCount(EventReloadTicketList) != 2 {
		t.Fatalf("reload_ticket_list count %d, want 2", emitter.staffCount(EventReloadTicketList))
	}
	if !emitter.userGot("customer-1", EventReloadConversation) {
		t.Fatal("customer did not get reload_conversation")
	}
}
