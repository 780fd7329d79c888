package ticket

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-chat-backend/internal/model"
)

// Unread counter rules: incrementing always rides along with the message
// that caused it (RecordTicketActivity); resetting always pairs a counter
// zero with the bulk is_read flip over the ticket's history, and is gated
// to the party that owns that side of the conversation.

// MarkReadStaff clears the staff-side unread state. Only the currently
// assigned staff member may do this.
func (s *Service) MarkReadStaff(ctx context.Context, ticketID, staffID string) (model.TicketItem, error) {
	if strings.TrimSpace(staffID) == "" {
		return model.TicketItem{}, newError(ErrorCodeUnauthorized, "staff identity required", nil)
	}

	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return model.TicketItem{}, err
	}

	if ticket.AssignedTo != staffID {
		return model.TicketItem{}, newError(ErrorCodeForbidden, "only the assigned staff member may mark this ticket read", nil)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)

	if err := s.repo.ResetUnread(ctx, ticket.TicketID, model.SenderTypeStaff, nowStr); err != nil {
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to reset unread count", err)
	}
	if err := s.repo.MarkMessagesRead(ctx, ticket.TicketID, model.SenderTypeCustomer, nowStr); err != nil {
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to mark messages read", err)
	}

	ticket.UnreadCountStaff = 0
	ticket.UpdatedAt = nowStr
	return ticket, nil
}

// MarkReadCustomer clears the customer-side unread state on the customer's
// own ticket.
func (s *Service) MarkReadCustomer(ctx context.Context, customerID string) (model.TicketItem, error) {
	if strings.TrimSpace(customerID) == "" {
		return model.TicketItem{}, newError(ErrorCodeUnauthorized, "customer identity required", nil)
	}

	ticket, err := s.repo.FindTicketByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.TicketItem{}, newError(ErrorCodeNotFound, "ticket not found", err)
		}
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to lookup ticket", err)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)

	if err := s.repo.ResetUnread(ctx, ticket.TicketID, model.SenderTypeCustomer, nowStr); err != nil {
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to reset unread count", err)
	}
	if err := s.repo.MarkMessagesRead(ctx, ticket.TicketID, model.SenderTypeStaff, nowStr); err != nil {
		return model.TicketItem{}, newError(ErrorCodeInternal, "failed to mark messages read", err)
	}

	ticket.UnreadCountCustomer = 0
	ticket.UpdatedAt = nowStr
	return ticket, nil
}
