package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"support-chat-backend/internal/presence"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	ScopeUser  = "user"
	ScopeStaff = "staff"
)

// Envelope is the fan-out unit. It travels through redis so that every
// instance sharing the channel delivers to the sockets it owns; a
// single-instance deployment without redis delivers directly.
type Envelope struct {
	Scope   string          `json:"scope"`
	UserID  string          `json:"userId,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Broadcaster struct {
	presence *presence.Registry
	rdb      *redis.Client
	channel  string
	logger   *zap.Logger
}

func New(reg *presence.Registry, rdb *redis.Client, channel string, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "support-chat-events"
	}
	return &Broadcaster{
		presence: reg,
		rdb:      rdb,
		channel:  channel,
		logger:   logger,
	}
}

// EmitToUser sends the event to every live handle of the user. Offline
// users are a no-op: the message is already persisted and shows up on
// their next history fetch.
func (b *Broadcaster) EmitToUser(userID, event string, payload interface{}) error {
	if userID == "" {
		return fmt.Errorf("broadcast: userID required")
	}
	env, err := b.envelope(ScopeUser, userID, event, payload)
	if err != nil {
		return err
	}
	return b.dispatch(env)
}

// EmitToOnlineStaff delivers the event to every staff member with a live
// connection, on every one of their handles.
func (b *Broadcaster) EmitToOnlineStaff(event string, payload interface{}) error {
	env, err := b.envelope(ScopeStaff, "", event, payload)
	if err != nil {
		return err
	}
	return b.dispatch(env)
}

// Run subscribes to the redis channel and repeats every received envelope
// to this instance's own sockets. It blocks until the context is done.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.rdb == nil {
		return
	}

	subscriber := b.rdb.Subscribe(ctx, b.channel)
	defer subscriber.Close()

	ch := subscriber.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("broadcast: malformed envelope", zap.Error(err))
				continue
			}
			b.deliver(env)
		}
	}
}

func (b *Broadcaster) envelope(scope, userID, event string, payload interface{}) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("broadcast: marshal payload: %w", err)
		}
		raw = data
	}
	return Envelope{
		Scope:   scope,
		UserID:  userID,
		Event:   event,
		Payload: raw,
	}, nil
}

func (b *Broadcaster) dispatch(env Envelope) error {
	if b.rdb == nil {
		b.deliver(env)
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broadcast: marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(context.Background(), b.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("broadcast: redis publish: %w", err)
	}
	incPublished()
	return nil
}

func (b *Broadcaster) deliver(env Envelope) {
	switch env.Scope {
	case ScopeUser:
		b.deliverToUser(env.UserID, env)
	case ScopeStaff:
		for _, staffID := range b.presence.OnlineStaffIDs() {
			b.deliverToUser(staffID, env)
		}
	default:
		b.logger.Warn("broadcast: unknown scope", zap.String("scope", env.Scope))
	}
}

func (b *Broadcaster) deliverToUser(userID string, env Envelope) {
	delivered := 0
	for _, conn := range b.presence.ConnsFor(userID) {
		if err := conn.Send(env.Event, env.Payload); err != nil {
			b.logger.Debug("broadcast: send failed",
				zap.String("userId", userID),
				zap.String("connId", conn.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		addDelivered(delivered)
	}
}
