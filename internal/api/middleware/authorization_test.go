package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	iternal_jwt "support-chat-backend/internal/jwt"

	"github.com/golang-jwt/jwt"
)

func setTestSecrets(t *testing.T) {
	t.Helper()
	iternal_jwt.SetRoleSecret(iternal_jwt.RoleCustomer, "customer-test-secret")
	iternal_jwt.SetRoleSecret(iternal_jwt.RoleStaff, "staff-test-secret")
}

func protected() http.HandlerFunc {
	return ValidateAnyJWT(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func request(header string) (*httptest.ResponseRecorder, *http.Request) {
	req := httptest.NewRequest(http.MethodGet, "/api/ws/v1/account/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return httptest.NewRecorder(), req
}

func TestMalformedAuthorizationHeaderIsRejected(t *testing.T) {
	setTestSecrets(t)

	// Headers shorter than the Bearer prefix must 401 like any other bad
	// credential, not crash the handler.
	for _, header := range []string{"abc", "B", "Bearer", "bearer token", "Token xyz"} {
		rec, req := request(header)
		protected()(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestMissingAuthorizationHeaderIsRejected(t *testing.T) {
	setTestSecrets(t)

	rec, req := request("")
	protected()(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestValidBearerTokenPasses(t *testing.T) {
	setTestSecrets(t)

	token, err := iternal_jwt.CreateToken(iternal_jwt.User{
		Id:     "cust-1",
		Email:  "ada@example.com",
		Name:   "Ada",
		Status: "verified",
	}, iternal_jwt.RoleCustomer, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	rec, req := request("Bearer " + token)
	protected()(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestTokenWithoutExpiryClaimIsRejected(t *testing.T) {
	setTestSecrets(t)

	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   "cust-1",
		"name": "Ada",
	})
	signed, err := raw.SignedString([]byte("customer-test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec, req := request("Bearer " + signed + "1")
	protected()(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
