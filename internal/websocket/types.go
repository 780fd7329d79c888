package websocket

import (
	"encoding/json"

	"support-chat-backend/internal/attachment"
)

// Inbound events.
const (
	EventSendMessage       = "send_message"
	EventStaffSendMessage  = "staff_send_message"
	EventStaffAssignTicket = "staff_assign_ticket"
	EventStaffCloseTicket  = "staff_close_ticket"
	EventStaffMarkRead     = "staff_mark_read"
	EventCustomerMarkRead  = "customer_mark_read"
	EventListTickets       = "list_tickets"
	EventListMessages      = "list_messages"
)

// Outbound events the gateway originates itself. The chat router owns the
// fan-out events (received_message, reload_*).
const (
	EventError       = "error"
	EventTicketList  = "ticket_list"
	EventMessageList = "message_list"
)

// Frame is the wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessagePayload struct {
	Content     string             `json:"content"`
	Type        string             `json:"type,omitempty"`
	Attachments []attachment.Input `json:"attachments,omitempty"`
}

type StaffSendMessagePayload struct {
	TicketID    string             `json:"ticketId"`
	Content     string             `json:"content"`
	Type        string             `json:"type,omitempty"`
	Attachments []attachment.Input `json:"attachments,omitempty"`
}

type AssignTicketPayload struct {
	TicketID     string `json:"ticketId"`
	AssigneeID   string `json:"assigneeId,omitempty"`
	AssigneeName string `json:"assigneeName,omitempty"`
}

type TicketPayload struct {
	TicketID string `json:"ticketId"`
}

type ListTicketsPayload struct {
	Limit int `json:"limit,omitempty"`
}

type ListMessagesPayload struct {
	TicketID string `json:"ticketId"`
	Limit    int    `json:"limit,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
