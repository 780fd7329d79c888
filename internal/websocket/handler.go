package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"support-chat-backend/internal/auth"
	"support-chat-backend/internal/model"
	"support-chat-backend/internal/presence"
	"support-chat-backend/internal/service/chat"
	"support-chat-backend/internal/service/ticket"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TicketReader serves the read-side events.
type TicketReader interface {
	Get(ctx context.Context, ticketID string) (model.TicketItem, error)
	ListTickets(ctx context.Context, limit int) ([]model.TicketItem, error)
	ListMessages(ctx context.Context, ticketID string, limit int) ([]model.TicketMessageItem, error)
}

// Gateway upgrades HTTP requests to websocket sessions and dispatches
// inbound frames to the chat router. Every frame re-checks the handshake
// token, so an expired session keeps its connection but loses the ability
// to act.
type Gateway struct {
	guard    *auth.Guard
	presence *presence.Registry
	router   *chat.Router
	tickets  TicketReader
	logger   *zap.Logger
}

func NewGateway(guard *auth.Guard, reg *presence.Registry, router *chat.Router, tickets TicketReader, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		guard:    guard,
		presence: reg,
		router:   router,
		tickets:  tickets,
		logger:   logger,
	}
}

func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	claims, err := g.guard.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newClient(conn, uuid.NewString(), claims.UserID, token, g.logger)

	if err := g.presence.Connect(r.Context(), claims.UserID, client); err != nil {
		g.logger.Warn("presence registration failed",
			zap.String("userId", claims.UserID),
			zap.Error(err),
		)
		conn.Close()
		return
	}
	incConnections()

	g.logger.Info("client connected",
		zap.String("userId", claims.UserID),
		zap.String("connId", client.ID()),
	)

	go client.keepAlive()
	go client.writePump()
	go client.readPump(
		func(frame Frame) {
			g.dispatch(context.Background(), client, frame)
		},
		func() {
			g.presence.Disconnect(claims.UserID, client)
			decConnections()
			g.logger.Info("client disconnected",
				zap.String("userId", claims.UserID),
				zap.String("connId", client.ID()),
			)
		},
	)
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, frame Frame) {
	incFramesReceived()

	claims, err := g.guard.Authenticate(client.token)
	if err != nil {
		g.sendError(client, auth.ErrUnauthorized)
		return
	}

	switch frame.Event {
	case EventSendMessage:
		g.handleSendMessage(ctx, client, claims, frame.Data)
	case EventStaffSendMessage:
		g.handleStaffSendMessage(ctx, client, claims, frame.Data)
	case EventStaffAssignTicket:
		g.handleAssignTicket(ctx, client, claims, frame.Data)
	case EventStaffCloseTicket:
		g.handleCloseTicket(ctx, client, claims, frame.Data)
	case EventStaffMarkRead:
		g.handleStaffMarkRead(ctx, client, claims, frame.Data)
	case EventCustomerMarkRead:
		g.handleCustomerMarkRead(ctx, client, claims)
	case EventListTickets:
		g.handleListTickets(ctx, client, claims, frame.Data)
	case EventListMessages:
		g.handleListMessages(ctx, client, claims, frame.Data)
	default:
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "unknown event"})
	}
}

func (g *Gateway) handleSendMessage(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	if claims.Staff {
		g.sendErrorPayload(client, ErrorPayload{Code: "forbidden", Message: "staff replies go through staff_send_message"})
		return
	}

	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
		return
	}

	_, err := g.router.HandleCustomerMessage(ctx, chat.CustomerMessageInput{
		CustomerID:   claims.UserID,
		CustomerName: claims.Name,
		Content:      payload.Content,
		MessageType:  payload.Type,
		Attachments:  payload.Attachments,
	})
	if err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleStaffSendMessage(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	if !g.requireStaff(client, claims) {
		return
	}

	var payload StaffSendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
		return
	}

	_, err := g.router.HandleStaffMessage(ctx, chat.StaffMessageInput{
		TicketID:    payload.TicketID,
		StaffID:     claims.UserID,
		StaffName:   claims.Name,
		Content:     payload.Content,
		MessageType: payload.Type,
		Attachments: payload.Attachments,
	})
	if err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleAssignTicket(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	if !g.requireStaff(client, claims) {
		return
	}

	var payload AssignTicketPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
		return
	}

	_, err := g.router.HandleClaim(ctx, ticket.ClaimParams{
		TicketID:     payload.TicketID,
		ActorID:      claims.UserID,
		ActorName:    claims.Name,
		AssigneeID:   payload.AssigneeID,
		AssigneeName: payload.AssigneeName,
	})
	if err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleCloseTicket(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	if !g.requireStaff(client, claims) {
		return
	}

	var payload TicketPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
		return
	}

	if _, err := g.router.HandleClose(ctx, payload.TicketID, claims.UserID); err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleStaffMarkRead(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	if !g.requireStaff(client, claims) {
		return
	}

	var payload TicketPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
		return
	}

	if _, err := g.router.HandleStaffMarkRead(ctx, payload.TicketID, claims.UserID); err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleCustomerMarkRead(ctx context.Context, client *Client, claims auth.Claims) {
	if claims.Staff {
		g.sendErrorPayload(client, ErrorPayload{Code: "forbidden", Message: "staff use staff_mark_read"})
		return
	}

	if _, err := g.router.HandleCustomerMarkRead(ctx, claims.UserID); err != nil {
		g.sendError(client, err)
	}
}

func (g *Gateway) handleListTickets(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	if !g.requireStaff(client, claims) {
		return
	}

	var payload ListTicketsPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
			return
		}
	}

	tickets, err := g.tickets.ListTickets(ctx, payload.Limit)
	if err != nil {
		g.sendError(client, err)
		return
	}

	g.send(client, EventTicketList, struct {
		Tickets []model.TicketItem `json:"tickets"`
	}{Tickets: tickets})
}

func (g *Gateway) handleListMessages(ctx context.Context, client *Client, claims auth.Claims, data json.RawMessage) {
	var payload ListMessagesPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		g.sendErrorPayload(client, ErrorPayload{Code: "validation_error", Message: "malformed payload"})
		return
	}

	tk, err := g.tickets.Get(ctx, payload.TicketID)
	if err != nil {
		g.sendError(client, err)
		return
	}
	if !claims.Staff && tk.CustomerID != claims.UserID {
		g.sendErrorPayload(client, ErrorPayload{Code: "forbidden", Message: "not your conversation"})
		return
	}

	messages, err := g.tickets.ListMessages(ctx, payload.TicketID, payload.Limit)
	if err != nil {
		g.sendError(client, err)
		return
	}

	g.send(client, EventMessageList, struct {
		TicketID string                    `json:"ticketId"`
		Messages []model.TicketMessageItem `json:"messages"`
	}{TicketID: payload.TicketID, Messages: messages})
}

func (g *Gateway) requireStaff(client *Client, claims auth.Claims) bool {
	if !claims.Staff {
		g.sendErrorPayload(client, ErrorPayload{Code: "forbidden", Message: "staff only"})
		return false
	}
	return true
}

func (g *Gateway) send(client *Client, event string, payload interface{}) {
	if err := client.Send(event, payload); err != nil {
		g.logger.Debug("send failed",
			zap.String("connId", client.ID()),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (g *Gateway) sendError(client *Client, err error) {
	g.sendErrorPayload(client, errorPayload(err))
}

func (g *Gateway) sendErrorPayload(client *Client, payload ErrorPayload) {
	g.send(client, EventError, payload)
}

func errorPayload(err error) ErrorPayload {
	var svcErr *ticket.Error
	if errors.As(err, &svcErr) {
		return ErrorPayload{Code: string(svcErr.Code), Message: svcErr.Message}
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return ErrorPayload{Code: "unauthorized", Message: "authentication required"}
	}
	return ErrorPayload{Code: "internal_error", Message: "something went wrong"}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}
