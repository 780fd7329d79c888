package ticket

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("ticket repository: not found")

// ErrStaleTicket reports a conditional write that lost an optimistic race:
// the ticket's status changed between the caller's read and its write.
var ErrStaleTicket = errors.New("ticket repository: stale ticket state")

// TicketActivity is the aggregate delta applied alongside a persisted
// message: last-message fields, one unread-counter increment, and an
// optional status transition (closed tickets reopen to pending).
type TicketActivity struct {
	LastMessage           string
	LastMessageAt         string
	LastMessageSenderType model.SenderType
	IncrementUnreadFor    model.SenderType
	NewStatus             *model.TicketStatus
	UpdatedAt             string
}

type Repository interface {
	GetUser(ctx context.Context, userID string) (model.UserItem, error)
	GetRole(ctx context.Context, roleKey string) (model.RoleItem, error)
	GetTicket(ctx context.Context, ticketID string) (model.TicketItem, error)
	FindTicketByCustomer(ctx context.Context, customerID string) (model.TicketItem, error)
	ListTickets(ctx context.Context, limit int) ([]model.TicketItem, error)
	CreateTicket(ctx context.Context, ticket model.TicketItem) error
	PutTicketIfStatus(ctx context.Context, ticket model.TicketItem, expect model.TicketStatus) error
	RecordTicketActivity(ctx context.Context, ticketID string, expect model.TicketStatus, activity TicketActivity) (model.TicketItem, error)
	ResetUnread(ctx context.Context, ticketID string, side model.SenderType, updatedAt string) error
	CreateMessage(ctx context.Context, message model.TicketMessageItem) error
	ListMessages(ctx context.Context, ticketID string, limit int) ([]model.TicketMessageItem, error)
	MarkMessagesRead(ctx context.Context, ticketID string, senderType model.SenderType, readAt string) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetUser(ctx context.Context, userID string) (model.UserItem, error) {
	var user model.UserItem
	err := r.db.Client.GetItem(
		ctx,
		model.UsersTable,
		map[string]types.AttributeValue{
			"userId": &types.AttributeValueMemberS{Value: userID},
		},
		&user,
	)
	if err != nil {
		if isNotFound(err) {
			return model.UserItem{}, ErrNotFound
		}
		return model.UserItem{}, err
	}
	return user, nil
}

func (r *DynamoRepository) GetRole(ctx context.Context, roleKey string) (model.RoleItem, error) {
	var role model.RoleItem
	err := r.db.Client.GetItem(
		ctx,
		model.RolesTable,
		map[string]types.AttributeValue{
			"roleKey": &types.AttributeValueMemberS{Value: roleKey},
		},
		&role,
	)
	if err != nil {
		if isNotFound(err) {
			return model.RoleItem{}, ErrNotFound
		}
		return model.RoleItem{}, err
	}
	return role, nil
}

func (r *DynamoRepository) GetTicket(ctx context.Context, ticketID string) (model.TicketItem, error) {
	var ticket model.TicketItem
	err := r.db.Client.GetItem(
		ctx,
		model.TicketsTable,
		map[string]types.AttributeValue{
			"ticketId": &types.AttributeValueMemberS{Value: ticketID},
		},
		&ticket,
	)
	if err != nil {
		if isNotFound(err) {
			return model.TicketItem{}, ErrNotFound
		}
		return model.TicketItem{}, err
	}
	return ticket, nil
}

func (r *DynamoRepository) FindTicketByCustomer(ctx context.Context, customerID string) (model.TicketItem, error) {
	// The pointer row is authoritative; the query path below covers tables
	// that predate it.
	var pointer model.TicketPointerItem
	err := r.db.Client.GetItem(
		ctx,
		model.TicketsTable,
		map[string]types.AttributeValue{
			"ticketId": &types.AttributeValueMemberS{Value: model.CustomerTicketPK(customerID)},
		},
		&pointer,
	)
	if err == nil && pointer.ActiveTicketID != "" {
		ticket, getErr := r.GetTicket(ctx, pointer.ActiveTicketID)
		if getErr == nil {
			return ticket, nil
		}
		if !errors.Is(getErr, ErrNotFound) {
			return model.TicketItem{}, getErr
		}
		// Pointer written but the ticket row not yet; fall through.
	} else if err != nil && !isNotFound(err) {
		return model.TicketItem{}, err
	}

	items, err := r.db.Client.QueryItems(
		ctx,
		model.TicketsTable,
		aws.String("byCustomer"),
		"customerId = :customerId",
		map[string]types.AttributeValue{
			":customerId": &types.AttributeValueMemberS{Value: customerID},
		},
		nil,
		nil,
	)
	if err != nil && !isIndexNotFound(err) {
		return model.TicketItem{}, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.TicketsTable,
			"customerId = :customerId",
			map[string]types.AttributeValue{
				":customerId": &types.AttributeValueMemberS{Value: customerID},
			},
			nil,
		)
		if err != nil {
			return model.TicketItem{}, err
		}
	}

	if len(items) == 0 {
		return model.TicketItem{}, ErrNotFound
	}

	tickets := make([]model.TicketItem, 0, len(items))
	for _, item := range items {
		var ticket model.TicketItem
		if err := attributevalue.UnmarshalMap(item, &ticket); err != nil {
			return model.TicketItem{}, err
		}
		tickets = append(tickets, ticket)
	}

	// One ticket per customer is the invariant; if history ever produced
	// more, the most recent one is the live conversation.
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt > tickets[j].CreatedAt
	})

	return tickets[0], nil
}

func (r *DynamoRepository) ListTickets(ctx context.Context, limit int) ([]model.TicketItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.TicketsTable,
		"attribute_exists(ticketId)",
		nil,
		nil,
	)
	if err != nil {
		return nil, err
	}

	tickets := make([]model.TicketItem, 0, len(items))
	for _, item := range items {
		var ticket model.TicketItem
		if err := attributevalue.UnmarshalMap(item, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].LastMessageAt > tickets[j].LastMessageAt
	})

	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}

	return tickets, nil
}

// CreateTicket first writes the per-customer pointer row, conditioned on
// the customer key not existing. The ticket id itself is a fresh UUID, so
// conditioning on it could never fail; the customer key is the one two
// racing first messages collide on. The loser gets ErrStaleTicket and
// adopts the pointed-at ticket via FindTicketByCustomer.
func (r *DynamoRepository) CreateTicket(ctx context.Context, ticket model.TicketItem) error {
	pointer := model.TicketPointerItem{
		TicketID:       model.CustomerTicketPK(ticket.CustomerID),
		ActiveTicketID: ticket.TicketID,
	}
	err := r.db.Client.PutItemConditional(
		ctx,
		model.TicketsTable,
		pointer,
		"attribute_not_exists(ticketId)",
		nil,
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrStaleTicket
	}
	if err != nil {
		return err
	}

	return r.db.Client.PutItem(ctx, model.TicketsTable, ticket)
}

func (r *DynamoRepository) PutTicketIfStatus(ctx context.Context, ticket model.TicketItem, expect model.TicketStatus) error {
	err := r.db.Client.PutItemConditional(
		ctx,
		model.TicketsTable,
		ticket,
		"#status = :expect",
		map[string]types.AttributeValue{
			":expect": &types.AttributeValueMemberS{Value: string(expect)},
		},
		map[string]string{
			"#status": "status",
		},
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrStaleTicket
	}
	return err
}

func (r *DynamoRepository) RecordTicketActivity(ctx context.Context, ticketID string, expect model.TicketStatus, activity TicketActivity) (model.TicketItem, error) {
	setParts := []string{
		"#lastMessage = :lastMessage",
		"#lastMessageAt = :lastMessageAt",
		"#lastMessageSenderType = :lastMessageSenderType",
		"#updatedAt = :updatedAt",
	}
	exprValues := map[string]types.AttributeValue{
		":lastMessage":           &types.AttributeValueMemberS{Value: activity.LastMessage},
		":lastMessageAt":         &types.AttributeValueMemberS{Value: activity.LastMessageAt},
		":lastMessageSenderType": &types.AttributeValueMemberS{Value: string(activity.LastMessageSenderType)},
		":updatedAt":             &types.AttributeValueMemberS{Value: activity.UpdatedAt},
		":expect":                &types.AttributeValueMemberS{Value: string(expect)},
		":one":                   &types.AttributeValueMemberN{Value: "1"},
	}
	attrNames := map[string]string{
		"#lastMessage":           "lastMessage",
		"#lastMessageAt":         "lastMessageAt",
		"#lastMessageSenderType": "lastMessageSenderType",
		"#updatedAt":             "updatedAt",
		"#status":                "status",
	}

	if activity.IncrementUnreadFor == model.SenderTypeStaff {
		attrNames["#unread"] = "unreadCountStaff"
	} else {
		attrNames["#unread"] = "unreadCountCustomer"
	}

	if activity.NewStatus != nil {
		setParts = append(setParts, "#status = :newStatus")
		exprValues[":newStatus"] = &types.AttributeValueMemberS{Value: string(*activity.NewStatus)}
	}

	updateExpr := "SET " + strings.Join(setParts, ", ") + " ADD #unread :one"

	var updated model.TicketItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.TicketsTable,
		map[string]types.AttributeValue{
			"ticketId": &types.AttributeValueMemberS{Value: ticketID},
		},
		updateExpr,
		"#status = :expect",
		exprValues,
		attrNames,
		&updated,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.TicketItem{}, ErrStaleTicket
		}
		return model.TicketItem{}, err
	}
	return updated, nil
}

func (r *DynamoRepository) ResetUnread(ctx context.Context, ticketID string, side model.SenderType, updatedAt string) error {
	unreadField := "unreadCountCustomer"
	if side == model.SenderTypeStaff {
		unreadField = "unreadCountStaff"
	}

	return r.db.Client.UpdateItem(
		ctx,
		model.TicketsTable,
		map[string]types.AttributeValue{
			"ticketId": &types.AttributeValueMemberS{Value: ticketID},
		},
		"SET #unread = :zero, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":zero":      &types.AttributeValueMemberN{Value: "0"},
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#unread":    unreadField,
			"#updatedAt": "updatedAt",
		},
		nil,
	)
}

func (r *DynamoRepository) CreateMessage(ctx context.Context, message model.TicketMessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message)
}

func (r *DynamoRepository) ListMessages(ctx context.Context, ticketID string, limit int) ([]model.TicketMessageItem, error) {
	messages, err := r.listTicketMessages(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

func (r *DynamoRepository) MarkMessagesRead(ctx context.Context, ticketID string, senderType model.SenderType, readAt string) error {
	messages, err := r.listTicketMessages(ctx, ticketID)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if msg.IsRead {
			continue
		}
		if senderType != "" && msg.SenderType != senderType {
			continue
		}

		err := r.db.Client.UpdateItem(
			ctx,
			model.MessagesTable,
			map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: msg.PK},
			},
			"SET #isRead = :isRead, #readAt = :readAt",
			map[string]types.AttributeValue{
				":isRead": &types.AttributeValueMemberBOOL{Value: true},
				":readAt": &types.AttributeValueMemberS{Value: readAt},
			},
			map[string]string{
				"#isRead": "isRead",
				"#readAt": "readAt",
			},
			nil,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *DynamoRepository) listTicketMessages(ctx context.Context, ticketID string) ([]model.TicketMessageItem, error) {
	scanForward := true
	items, err := r.db.Client.QueryItems(
		ctx,
		model.MessagesTable,
		aws.String("byTicket"),
		"ticketId = :ticketId",
		map[string]types.AttributeValue{
			":ticketId": &types.AttributeValueMemberS{Value: ticketID},
		},
		nil,
		&scanForward,
	)
	if err != nil && !isIndexNotFound(err) {
		return nil, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.MessagesTable,
			"ticketId = :ticketId",
			map[string]types.AttributeValue{
				":ticketId": &types.AttributeValueMemberS{Value: ticketID},
			},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]model.TicketMessageItem, 0, len(items))
	for _, item := range items {
		var message model.TicketMessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	sort.Slice(messages, func(i, j int) bool {
		ti := parseTime(messages[i].CreatedAt)
		tj := parseTime(messages[j].CreatedAt)
		return ti.Before(tj)
	})

	return messages, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}

func isIndexNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index") && strings.Contains(msg, "not") && strings.Contains(msg, "found")
}

func parseTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
