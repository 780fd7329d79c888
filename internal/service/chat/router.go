package chat

import (
	"context"
	"fmt"
	"strings"

	"support-chat-backend/internal/attachment"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/service/ticket"

	"go.uber.org/zap"
)

// Events pushed to connected clients.
const (
	EventReceivedMessage    = "received_message"
	EventReloadTicketList   = "reload_ticket_list"
	EventReloadConversation = "reload_conversation"
	EventReloadTicketImages = "reload_ticket_images"
)

// TicketService is the slice of the ticket service the router drives.
type TicketService interface {
	Get(ctx context.Context, ticketID string) (model.TicketItem, error)
	TicketForCustomer(ctx context.Context, customerID, customerName string) (model.TicketItem, bool, error)
	RecordCustomerMessage(ctx context.Context, params ticket.CustomerMessageParams) (ticket.CustomerMessageResult, error)
	RecordStaffMessage(ctx context.Context, params ticket.StaffMessageParams) (ticket.StaffMessageResult, error)
	Claim(ctx context.Context, params ticket.ClaimParams) (model.TicketItem, error)
	Close(ctx context.Context, ticketID, staffID string) (model.TicketItem, error)
	MarkReadStaff(ctx context.Context, ticketID, staffID string) (model.TicketItem, error)
	MarkReadCustomer(ctx context.Context, customerID string) (model.TicketItem, error)
}

// Emitter fans events out to connected clients, local and remote.
type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) error
	EmitToOnlineStaff(event string, payload interface{}) error
}

// Ingestor moves staged attachment files to durable storage.
type Ingestor interface {
	Ingest(ctx context.Context, ticketID string, staged *attachment.Staged) ([]model.AttachmentRecord, error)
}

// Router turns inbound chat commands into persisted state changes and the
// matching fan-out. Persistence always happens before any emit, so a
// delivery failure can never lose a message.
type Router struct {
	tickets    TicketService
	emitter    Emitter
	ingestor   Ingestor
	scratchDir string
	logger     *zap.Logger
}

func NewRouter(tickets TicketService, emitter Emitter, ingestor Ingestor, scratchDir string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		tickets:    tickets,
		emitter:    emitter,
		ingestor:   ingestor,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// MessagePayload is the received_message event body.
type MessagePayload struct {
	Ticket  model.TicketItem        `json:"ticket"`
	Message model.TicketMessageItem `json:"message"`
}

// TicketRefPayload carries just enough for a client to refetch.
type TicketRefPayload struct {
	TicketID string `json:"ticketId"`
}

type CustomerMessageInput struct {
	CustomerID   string
	CustomerName string
	Content      string
	MessageType  string
	Attachments  []attachment.Input
}

// HandleCustomerMessage ingests attachments, records the message on the
// customer's ticket (creating or reopening it as needed), and notifies
// every online staff member plus the customer's own other handles.
func (r *Router) HandleCustomerMessage(ctx context.Context, input CustomerMessageInput) (ticket.CustomerMessageResult, error) {
	var records []model.AttachmentRecord
	content := input.Content
	if len(input.Attachments) > 0 {
		// Attachment keys are scoped by ticket, so the ticket has to
		// exist before the upload.
		tk, _, err := r.tickets.TicketForCustomer(ctx, input.CustomerID, input.CustomerName)
		if err != nil {
			return ticket.CustomerMessageResult{}, err
		}
		records, content, err = r.ingestAttachments(ctx, tk.TicketID, input.Content, input.Attachments)
		if err != nil {
			return ticket.CustomerMessageResult{}, err
		}
	}

	result, err := r.tickets.RecordCustomerMessage(ctx, ticket.CustomerMessageParams{
		CustomerID:   input.CustomerID,
		CustomerName: input.CustomerName,
		Content:      content,
		MessageType:  input.MessageType,
		Attachments:  records,
	})
	if err != nil {
		return ticket.CustomerMessageResult{}, err
	}

	payload := MessagePayload{Ticket: result.Ticket, Message: result.Message}
	r.emitToUser(input.CustomerID, EventReceivedMessage, payload)
	r.emitToStaff(EventReceivedMessage, payload)
	r.emitToStaff(EventReloadTicketList, TicketRefPayload{TicketID: result.Ticket.TicketID})
	if len(records) > 0 {
		r.emitToStaff(EventReloadTicketImages, TicketRefPayload{TicketID: result.Ticket.TicketID})
	}

	return result, nil
}

type StaffMessageInput struct {
	TicketID    string
	StaffID     string
	StaffName   string
	Content     string
	MessageType string
	Attachments []attachment.Input
}

// HandleStaffMessage records an assignee's reply and pushes it to the
// ticket's customer and to the staff side for conversation refresh.
func (r *Router) HandleStaffMessage(ctx context.Context, input StaffMessageInput) (ticket.StaffMessageResult, error) {
	records, content, err := r.ingestAttachments(ctx, input.TicketID, input.Content, input.Attachments)
	if err != nil {
		return ticket.StaffMessageResult{}, err
	}

	result, err := r.tickets.RecordStaffMessage(ctx, ticket.StaffMessageParams{
		TicketID:    input.TicketID,
		StaffID:     input.StaffID,
		StaffName:   input.StaffName,
		Content:     content,
		MessageType: input.MessageType,
		Attachments: records,
	})
	if err != nil {
		return ticket.StaffMessageResult{}, err
	}

	payload := MessagePayload{Ticket: result.Ticket, Message: result.Message}
	r.emitToUser(result.Ticket.CustomerID, EventReceivedMessage, payload)
	r.emitToStaff(EventReloadConversation, TicketRefPayload{TicketID: result.Ticket.TicketID})
	if len(records) > 0 {
		r.emitToStaff(EventReloadTicketImages, TicketRefPayload{TicketID: result.Ticket.TicketID})
	}

	return result, nil
}

// HandleClaim assigns the ticket and refreshes both sides.
func (r *Router) HandleClaim(ctx context.Context, params ticket.ClaimParams) (model.TicketItem, error) {
	tk, err := r.tickets.Claim(ctx, params)
	if err != nil {
		return model.TicketItem{}, err
	}
	r.emitToStaff(EventReloadTicketList, TicketRefPayload{TicketID: tk.TicketID})
	r.emitToUser(tk.CustomerID, EventReloadConversation, TicketRefPayload{TicketID: tk.TicketID})
	return tk, nil
}

// HandleClose resolves the ticket and refreshes both sides.
func (r *Router) HandleClose(ctx context.Context, ticketID, staffID string) (model.TicketItem, error) {
	tk, err := r.tickets.Close(ctx, ticketID, staffID)
	if err != nil {
		return model.TicketItem{}, err
	}
	r.emitToStaff(EventReloadTicketList, TicketRefPayload{TicketID: tk.TicketID})
	r.emitToUser(tk.CustomerID, EventReloadConversation, TicketRefPayload{TicketID: tk.TicketID})
	return tk, nil
}

// HandleStaffMarkRead zeroes the staff unread counter on the ticket.
func (r *Router) HandleStaffMarkRead(ctx context.Context, ticketID, staffID string) (model.TicketItem, error) {
	tk, err := r.tickets.MarkReadStaff(ctx, ticketID, staffID)
	if err != nil {
		return model.TicketItem{}, err
	}
	r.emitToStaff(EventReloadTicketList, TicketRefPayload{TicketID: tk.TicketID})
	return tk, nil
}

// HandleCustomerMarkRead zeroes the customer unread counter; the reload
// keeps the customer's other handles in sync.
func (r *Router) HandleCustomerMarkRead(ctx context.Context, customerID string) (model.TicketItem, error) {
	tk, err := r.tickets.MarkReadCustomer(ctx, customerID)
	if err != nil {
		return model.TicketItem{}, err
	}
	r.emitToUser(customerID, EventReloadConversation, TicketRefPayload{TicketID: tk.TicketID})
	return tk, nil
}

// ingestAttachments stages the raw inputs, uploads them and returns the
// resulting records. Scratch files are always removed, whether or not the
// upload succeeds. When an upload fails and the message still carries
// text, the message degrades to text-only instead of being dropped.
func (r *Router) ingestAttachments(ctx context.Context, ticketID, content string, inputs []attachment.Input) ([]model.AttachmentRecord, string, error) {
	if len(inputs) == 0 {
		return nil, content, nil
	}

	staged, err := attachment.Stage(r.scratchDir, inputs)
	if err != nil {
		return nil, "", fmt.Errorf("chat: stage attachments: %w", err)
	}
	defer staged.Release()

	records, err := r.ingestor.Ingest(ctx, ticketID, staged)
	if err != nil {
		if strings.TrimSpace(content) == "" {
			return nil, "", fmt.Errorf("chat: attachment upload failed: %w", err)
		}
		r.logger.Warn("attachment upload failed, sending text only",
			zap.String("ticketId", ticketID),
			zap.Error(err),
		)
		return nil, content, nil
	}

	return records, content, nil
}

func (r *Router) emitToUser(userID, event string, payload interface{}) {
	if err := r.emitter.EmitToUser(userID, event, payload); err != nil {
		r.logger.Warn("emit to user failed",
			zap.String("userId", userID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (r *Router) emitToStaff(event string, payload interface{}) {
	if err := r.emitter.EmitToOnlineStaff(event, payload); err != nil {
		r.logger.Warn("emit to staff failed",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
