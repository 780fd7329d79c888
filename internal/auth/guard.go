package auth

import (
	"errors"
	"fmt"
	"time"

	internaljwt "support-chat-backend/internal/jwt"
	"support-chat-backend/internal/model"
)

// ErrUnauthorized covers every credential failure: missing, malformed,
// expired, wrong role secret, or an unverified account.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Claims is the identity attached to a connection after a successful
// bearer-token check.
type Claims struct {
	UserID string
	Email  string
	Name   string
	Status string
	Staff  bool
}

func (c Claims) SenderType() model.SenderType {
	if c.Staff {
		return model.SenderTypeStaff
	}
	return model.SenderTypeCustomer
}

// Guard validates bearer credentials. It is called once at the websocket
// handshake and again before every inbound event, so a token that expires
// mid-session stops authorizing new events immediately.
type Guard struct {
	now func() time.Time
}

func NewGuard() *Guard {
	return &Guard{now: time.Now}
}

func NewGuardWithClock(now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{now: now}
}

// Authenticate resolves the token against the staff secret first, then the
// customer secret; the trailing role character makes a wrong-role parse fail
// fast. Only accounts with verified status produce usable claims.
func (g *Guard) Authenticate(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}

	role := internaljwt.RoleStaff
	mapClaims, err := internaljwt.ParseToken(token, role)
	if err != nil {
		role = internaljwt.RoleCustomer
		mapClaims, err = internaljwt.ParseToken(token, role)
	}
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if exp, ok := mapClaims["exp"].(float64); ok {
		if g.now().Unix() > int64(exp) {
			return Claims{}, fmt.Errorf("%w: token expired", ErrUnauthorized)
		}
	}

	userID, _ := mapClaims["id"].(string)
	email, _ := mapClaims["email"].(string)
	name, _ := mapClaims["name"].(string)
	status, _ := mapClaims["status"].(string)

	if userID == "" {
		return Claims{}, fmt.Errorf("%w: token missing identity", ErrUnauthorized)
	}
	if status != model.UserStatusVerified {
		return Claims{}, fmt.Errorf("%w: account not verified", ErrUnauthorized)
	}

	return Claims{
		UserID: userID,
		Email:  email,
		Name:   name,
		Status: status,
		Staff:  role == internaljwt.RoleStaff,
	}, nil
}
