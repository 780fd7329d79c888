package model

import "fmt"

type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusAssigned TicketStatus = "assigned"
	TicketStatusClosed   TicketStatus = "closed"
)

type SenderType string

const (
	SenderTypeCustomer SenderType = "customer"
	SenderTypeStaff    SenderType = "staff"
)

func MessagePK(ticketID, messageID string) string {
	return fmt.Sprintf("%s#%s", ticketID, messageID)
}

// CustomerTicketPK keys the per-customer pointer row in the tickets table.
// The pointer is created with a not-exists condition on this key, which is
// what holds one ticket per customer when two first messages race.
func CustomerTicketPK(customerID string) string {
	return fmt.Sprintf("customer#%s", customerID)
}

// TicketPointerItem maps a customer to their single conversation ticket.
// It carries no customerId attribute so customer-filtered queries never
// pick it up.
type TicketPointerItem struct {
	TicketID       string `dynamodbav:"ticketId"`
	ActiveTicketID string `dynamodbav:"activeTicketId"`
}

// ServiceSession is one contiguous period a staff member spent as the
// active handler of a ticket. Sessions are append-only; a superseded
// session is ended, never removed.
type ServiceSession struct {
	StaffID   string `dynamodbav:"staffId" json:"staffId"`
	StaffName string `dynamodbav:"staffName" json:"staffName"`
	StartedAt string `dynamodbav:"startedAt" json:"startedAt"`
	EndedAt   string `dynamodbav:"endedAt,omitempty" json:"endedAt,omitempty"`
	IsActive  bool   `dynamodbav:"isActive" json:"isActive"`
}

type TicketItem struct {
	TicketID              string           `dynamodbav:"ticketId" json:"ticketId"`
	CustomerID            string           `dynamodbav:"customerId" json:"customerId"`
	CustomerName          string           `dynamodbav:"customerName,omitempty" json:"customerName,omitempty"`
	Status                TicketStatus     `dynamodbav:"status" json:"status"`
	AssignedTo            string           `dynamodbav:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	ServedBy              []ServiceSession `dynamodbav:"servedBy,omitempty" json:"servedBy,omitempty"`
	LastMessage           string           `dynamodbav:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastMessageAt         string           `dynamodbav:"lastMessageAt,omitempty" json:"lastMessageAt,omitempty"`
	LastMessageSenderType SenderType       `dynamodbav:"lastMessageSenderType,omitempty" json:"lastMessageSenderType,omitempty"`
	UnreadCountCustomer   int              `dynamodbav:"unreadCountCustomer" json:"unreadCountCustomer"`
	UnreadCountStaff      int              `dynamodbav:"unreadCountStaff" json:"unreadCountStaff"`
	CreatedAt             string           `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt             string           `dynamodbav:"updatedAt" json:"updatedAt"`
	AssignedAt            string           `dynamodbav:"assignedAt,omitempty" json:"assignedAt,omitempty"`
	ClosedAt              string           `dynamodbav:"closedAt,omitempty" json:"closedAt,omitempty"`
}

// ActiveSession returns the currently active service session, if any.
func (t TicketItem) ActiveSession() (ServiceSession, bool) {
	for i := len(t.ServedBy) - 1; i >= 0; i-- {
		if t.ServedBy[i].IsActive {
			return t.ServedBy[i], true
		}
	}
	return ServiceSession{}, false
}

type AttachmentRecord struct {
	ID   string `dynamodbav:"id" json:"id"`
	URL  string `dynamodbav:"url" json:"url"`
	Type string `dynamodbav:"type" json:"type"`
}

type TicketMessageItem struct {
	PK          string             `dynamodbav:"pk" json:"-"`
	TicketID    string             `dynamodbav:"ticketId" json:"ticketId"`
	MessageID   string             `dynamodbav:"messageId" json:"messageId"`
	SenderID    string             `dynamodbav:"senderId" json:"senderId"`
	SenderType  SenderType         `dynamodbav:"senderType" json:"senderType"`
	SenderName  string             `dynamodbav:"senderName,omitempty" json:"senderName,omitempty"`
	Content     string             `dynamodbav:"content,omitempty" json:"content,omitempty"`
	Type        string             `dynamodbav:"type" json:"type"`
	IsRead      bool               `dynamodbav:"isRead" json:"isRead"`
	ReadAt      string             `dynamodbav:"readAt,omitempty" json:"readAt,omitempty"`
	Attachments []AttachmentRecord `dynamodbav:"attachments,omitempty" json:"attachments,omitempty"`
	CreatedAt   string             `dynamodbav:"createdAt" json:"createdAt"`
}
