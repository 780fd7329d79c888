package ticket

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/model"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Service owns the ticket lifecycle: pending -> assigned -> closed, with a
// customer message on a closed ticket reopening it to pending. Every
// transition re-reads current state and writes conditionally on the status
// it read, so racing staff actions resolve to exactly one winner.
type Service struct {
	repo Repository
	now  func() time.Time
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo: repo,
		now:  now,
	}
}

func (s *Service) Get(ctx context.Context, ticketID string) (model.TicketItem, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return model.TicketItem{}, newError(ErrorCodeValidation, "ticketId is required", nil)
	}

	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.TicketItem{}, newError(ErrorCodeNotFound, "ticket not found", err)
		}
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to fetch ticket", err)
	}
	return ticket, nil
}

// TicketForCustomer returns the customer's single conversation ticket,
// creating a pending one on their first-ever message. A closed ticket is
// returned as-is; reopening is the message path's job.
func (s *Service) TicketForCustomer(ctx context.Context, customerID, customerName string) (model.TicketItem, bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return model.TicketItem{}, false, newError(ErrorCodeValidation, "customerId is required", nil)
	}

	ticket, err := s.repo.FindTicketByCustomer(ctx, customerID)
	if err == nil {
		return ticket, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.TicketItem{}, false, newError(ErrorCodeInternal, "failed to lookup ticket", err)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)

	ticket = model.TicketItem{
		TicketID:     uuid.NewString(),
		CustomerID:   customerID,
		CustomerName: strings.TrimSpace(customerName),
		Status:       model.TicketStatusPending,
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}

	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		if errors.Is(err, ErrStaleTicket) {
			// Lost the create race against another connection of the same
			// customer; adopt the winner's ticket. Its row can land a beat
			// after the pointer that lost us the race, hence the retries.
			for attempt := 0; attempt < 3; attempt++ {
				existing, findErr := s.repo.FindTicketByCustomer(ctx, customerID)
				if findErr == nil {
					return existing, false, nil
				}
				if !errors.Is(findErr, ErrNotFound) {
					break
				}
			}
		}
		return model.TicketItem{}, false, newError(ErrorCodeInternal, "failed to create ticket", err)
	}

	return ticket, true, nil
}

type ClaimParams struct {
	TicketID     string
	ActorID      string
	ActorName    string
	AssigneeID   string
	AssigneeName string
}

// Claim assigns the ticket to a staff member. Valid from pending (first
// claim) or assigned (reassignment); never from closed. The whole compound
// effect (status, assignee, session history, staff unread reset, bulk
// message read) is written conditionally on the status the claim read, so
// two staff racing on the same pending ticket produce one winner and one
// conflict.
func (s *Service) Claim(ctx context.Context, params ClaimParams) (model.TicketItem, error) {
	if strings.TrimSpace(params.TicketID) == "" {
		return model.TicketItem{}, newError(ErrorCodeValidation, "ticketId is required", nil)
	}
	if strings.TrimSpace(params.ActorID) == "" {
		return model.TicketItem{}, newError(ErrorCodeUnauthorized, "staff identity required", nil)
	}

	assigneeID := strings.TrimSpace(params.AssigneeID)
	assigneeName := strings.TrimSpace(params.AssigneeName)
	if assigneeID == "" {
		assigneeID = params.ActorID
		assigneeName = params.ActorName
	}

	ticket, err := s.Get(ctx, params.TicketID)
	if err != nil {
		return model.TicketItem{}, err
	}

	if ticket.Status == model.TicketStatusClosed {
		return model.TicketItem{}, newError(ErrorCodeConflict, "closed ticket cannot be claimed", nil)
	}
	if ticket.Status == model.TicketStatusAssigned && strings.TrimSpace(params.AssigneeID) == "" {
		// A plain claim is only valid from pending; taking over an
		// assigned ticket requires an explicit reassignment target.
		return model.TicketItem{}, newError(ErrorCodeConflict, "ticket is already assigned", nil)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)
	priorStatus := ticket.Status

	updated := ticket
	updated.Status = model.TicketStatusAssigned
	updated.AssignedTo = assigneeID
	updated.AssignedAt = nowStr
	updated.UnreadCountStaff = 0
	updated.UpdatedAt = nowStr
	updated.ServedBy = endActiveSession(ticket.ServedBy, nowStr)
	updated.ServedBy = append(updated.ServedBy, model.ServiceSession{
		StaffID:   assigneeID,
		StaffName: assigneeName,
		StartedAt: nowStr,
		IsActive:  true,
	})

	if err := s.repo.PutTicketIfStatus(ctx, updated, priorStatus); err != nil {
		if errors.Is(err, ErrStaleTicket) {
			return model.TicketItem{}, newError(ErrorCodeConflict, "ticket state changed, refresh and retry", err)
		}
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to claim ticket", err)
	}

	if err := s.repo.MarkMessagesRead(ctx, updated.TicketID, "", nowStr); err != nil {
		// The claim is already committed; failing now would send the caller
		// into a retry that hits the already-assigned conflict. Any flags
		// left unread are swept by the next mark-read on this ticket.
		_ = s.repo.MarkMessagesRead(ctx, updated.TicketID, "", nowStr)
	}

	return updated, nil
}

// Close ends the conversation. Only the currently assigned staff member may
// close; the active service session is ended and the assignee cleared so
// the assigned-iff-assignee invariant holds in the closed state.
func (s *Service) Close(ctx context.Context, ticketID, staffID string) (model.TicketItem, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return model.TicketItem{}, err
	}

	if ticket.Status != model.TicketStatusAssigned {
		return model.TicketItem{}, newError(ErrorCodeConflict, "ticket is not assigned", nil)
	}
	if ticket.AssignedTo != staffID {
		return model.TicketItem{}, newError(ErrorCodeForbidden, "only the assigned staff member may close this ticket", nil)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)

	updated := ticket
	updated.Status = model.TicketStatusClosed
	updated.AssignedTo = ""
	updated.ClosedAt = nowStr
	updated.UpdatedAt = nowStr
	updated.ServedBy = endActiveSession(ticket.ServedBy, nowStr)

	if err := s.repo.PutTicketIfStatus(ctx, updated, model.TicketStatusAssigned); err != nil {
		if errors.Is(err, ErrStaleTicket) {
			return model.TicketItem{}, newError(ErrorCodeConflict, "ticket state changed, refresh and retry", err)
		}
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to close ticket", err)
	}

	return updated, nil
}

type CustomerMessageParams struct {
	CustomerID   string
	CustomerName string
	Content      string
	MessageType  string
	Attachments  []model.AttachmentRecord
}

type CustomerMessageResult struct {
	Ticket        model.TicketItem
	Message       model.TicketMessageItem
	TicketCreated bool
	Reopened      bool
}

// RecordCustomerMessage resolves (or creates) the customer's ticket,
// persists the message, and applies the aggregate update: last-message
// fields, staff unread increment, and the closed->pending reopen when
// needed. The aggregate write is conditional on the status that was read;
// a lost race re-reads and retries once before surfacing a conflict.
func (s *Service) RecordCustomerMessage(ctx context.Context, params CustomerMessageParams) (CustomerMessageResult, error) {
	if strings.TrimSpace(params.Content) == "" && len(params.Attachments) == 0 {
		return CustomerMessageResult{}, newError(ErrorCodeValidation, "message content or attachments required", nil)
	}

	ticket, created, err := s.TicketForCustomer(ctx, params.CustomerID, params.CustomerName)
	if err != nil {
		return CustomerMessageResult{}, err
	}

	message := s.buildMessage(ticket.TicketID, params.CustomerID, params.CustomerName, model.SenderTypeCustomer, params.Content, params.MessageType, params.Attachments)
	if err := s.repo.CreateMessage(ctx, message); err != nil {
		return CustomerMessageResult{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	reopened := false
	updated := ticket
	for attempt := 0; ; attempt++ {
		var newStatus *model.TicketStatus
		if ticket.Status == model.TicketStatusClosed {
			// Reopen goes to pending, never straight to assigned; staff
			// must re-claim the conversation.
			pending := model.TicketStatusPending
			newStatus = &pending
			reopened = true
		} else {
			reopened = false
		}

		updated, err = s.repo.RecordTicketActivity(ctx, ticket.TicketID, ticket.Status, TicketActivity{
			LastMessage:           params.Content,
			LastMessageAt:         message.CreatedAt,
			LastMessageSenderType: model.SenderTypeCustomer,
			IncrementUnreadFor:    model.SenderTypeStaff,
			NewStatus:             newStatus,
			UpdatedAt:             message.CreatedAt,
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrStaleTicket) && attempt == 0 {
			ticket, err = s.repo.GetTicket(ctx, ticket.TicketID)
			if err != nil {
				return CustomerMessageResult{}, newError(ErrorCodeInternal, "failed to refresh ticket", err)
			}
			continue
		}
		if errors.Is(err, ErrStaleTicket) {
			return CustomerMessageResult{}, newError(ErrorCodeConflict, "ticket state changed, refresh and retry", err)
		}
		return CustomerMessageResult{}, newError(ErrorCodeInternal, "failed to update ticket", err)
	}

	return CustomerMessageResult{
		Ticket:        updated,
		Message:       message,
		TicketCreated: created,
		Reopened:      reopened,
	}, nil
}

type StaffMessageParams struct {
	TicketID    string
	StaffID     string
	StaffName   string
	Content     string
	MessageType string
	Attachments []model.AttachmentRecord
}

type StaffMessageResult struct {
	Ticket  model.TicketItem
	Message model.TicketMessageItem
}

// RecordStaffMessage persists a staff reply on an explicitly addressed
// ticket. The sender must be the current assignee; anyone else is rejected
// before anything is written.
func (s *Service) RecordStaffMessage(ctx context.Context, params StaffMessageParams) (StaffMessageResult, error) {
	if strings.TrimSpace(params.Content) == "" && len(params.Attachments) == 0 {
		return StaffMessageResult{}, newError(ErrorCodeValidation, "message content or attachments required", nil)
	}

	ticket, err := s.Get(ctx, params.TicketID)
	if err != nil {
		return StaffMessageResult{}, err
	}

	if ticket.Status != model.TicketStatusAssigned || ticket.AssignedTo != params.StaffID {
		return StaffMessageResult{}, newError(ErrorCodeForbidden, "only the assigned staff member may reply to this ticket", nil)
	}

	message := s.buildMessage(ticket.TicketID, params.StaffID, params.StaffName, model.SenderTypeStaff, params.Content, params.MessageType, params.Attachments)
	if err := s.repo.CreateMessage(ctx, message); err != nil {
		return StaffMessageResult{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	updated, err := s.repo.RecordTicketActivity(ctx, ticket.TicketID, model.TicketStatusAssigned, TicketActivity{
		LastMessage:           params.Content,
		LastMessageAt:         message.CreatedAt,
		LastMessageSenderType: model.SenderTypeStaff,
		IncrementUnreadFor:    model.SenderTypeCustomer,
		UpdatedAt:             message.CreatedAt,
	})
	if err != nil {
		if errors.Is(err, ErrStaleTicket) {
			// The ticket was closed or reassigned while the reply was in
			// flight; the message stands but the sender must refresh.
			return StaffMessageResult{}, newError(ErrorCodeConflict, "ticket state changed, refresh and retry", err)
		}
		return StaffMessageResult{}, newError(ErrorCodeInternal, "failed to update ticket", err)
	}

	return StaffMessageResult{
		Ticket:  updated,
		Message: message,
	}, nil
}

func (s *Service) ListTickets(ctx context.Context, limit int) ([]model.TicketItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	tickets, err := s.repo.ListTickets(ctx, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list tickets", err)
	}
	return tickets, nil
}

func (s *Service) ListMessages(ctx context.Context, ticketID string, limit int) ([]model.TicketMessageItem, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return nil, newError(ErrorCodeValidation, "ticketId is required", nil)
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	messages, err := s.repo.ListMessages(ctx, ticketID, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list messages", err)
	}
	return messages, nil
}

// UserRole and IsStaffRole let the presence registry resolve and cache a
// user's role through the same repository the lifecycle uses.
func (s *Service) UserRole(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", newError(ErrorCodeNotFound, "user not found", err)
		}
		return "", newError(ErrorCodeInternal, "failed to load user", err)
	}
	return user.Role, nil
}

func (s *Service) IsStaffRole(ctx context.Context, roleKey string) (bool, error) {
	role, err := s.repo.GetRole(ctx, roleKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown role keys are treated as customer-grade rather than
			// refusing the connection.
			return false, nil
		}
		return false, newError(ErrorCodeInternal, "failed to load role", err)
	}
	return role.IsStaff, nil
}

func (s *Service) buildMessage(ticketID, senderID, senderName string, senderType model.SenderType, content, messageType string, attachments []model.AttachmentRecord) model.TicketMessageItem {
	now := s.now().UTC()
	messageID := uuid.NewString()

	if messageType == "" {
		messageType = "text"
	}

	return model.TicketMessageItem{
		PK:          model.MessagePK(ticketID, messageID),
		TicketID:    ticketID,
		MessageID:   messageID,
		SenderID:    senderID,
		SenderType:  senderType,
		SenderName:  strings.TrimSpace(senderName),
		Content:     strings.TrimSpace(content),
		Type:        messageType,
		Attachments: attachments,
		CreatedAt:   now.Format(time.RFC3339),
	}
}

func endActiveSession(sessions []model.ServiceSession, endedAt string) []model.ServiceSession {
	out := make([]model.ServiceSession, len(sessions))
	copy(out, sessions)
	for i := range out {
		if out[i].IsActive {
			out[i].IsActive = false
			out[i].EndedAt = endedAt
		}
	}
	return out
}
