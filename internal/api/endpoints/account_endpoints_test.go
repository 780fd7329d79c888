package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"support-chat-backend/internal/auth"
	internaljwt "support-chat-backend/internal/jwt"
	"support-chat-backend/internal/model"
	accountsvc "support-chat-backend/internal/service/account"
)

type memoryAccountRepo struct {
	users map[string]model.UserItem
	roles map[string]model.RoleItem
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{
		users: map[string]model.UserItem{},
		roles: map[string]model.RoleItem{},
	}
}

func (m *memoryAccountRepo) CreateUser(_ context.Context, user model.UserItem) error {
	if _, exists := m.users[user.UserID]; exists {
		return errors.New("user already exists")
	}
	m.users[user.UserID] = user
	return nil
}

func (m *memoryAccountRepo) FindUserByEmail(_ context.Context, email string) (model.UserItem, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return model.UserItem{}, accountsvc.ErrNotFound
}

func (m *memoryAccountRepo) GetUser(_ context.Context, userID string) (model.UserItem, error) {
	user, ok := m.users[userID]
	if !ok {
		return model.UserItem{}, accountsvc.ErrNotFound
	}
	return user, nil
}

func (m *memoryAccountRepo) GetRole(_ context.Context, roleKey string) (model.RoleItem, error) {
	role, ok := m.roles[roleKey]
	if !ok {
		return model.RoleItem{}, accountsvc.ErrNotFound
	}
	return role, nil
}

func newTestEndpoints(t *testing.T) (AccountEndpoints, *memoryAccountRepo) {
	t.Helper()

	internaljwt.SetRoleSecret(internaljwt.RoleCustomer, "customer-endpoint-secret")
	internaljwt.SetRoleSecret(internaljwt.RoleStaff, "staff-endpoint-secret")
	accountsvc.SetTokenIssuer(func(user internaljwt.User, role internaljwt.Role, _ int64) (internaljwt.TokenResponse, error) {
		access, err := internaljwt.CreateToken(user, role, time.Now().Add(time.Hour).Unix())
		if err != nil {
			return internaljwt.TokenResponse{}, err
		}
		return internaljwt.TokenResponse{AccessToken: access, RefreshToken: "refresh-" + user.Id}, nil
	})
	t.Cleanup(func() { accountsvc.SetTokenIssuer(nil) })

	repo := newMemoryAccountRepo()
	service := accountsvc.NewWithRepository(repo, nil)
	return NewAccountEndpointsWithService(service, auth.NewGuard()), repo
}

func postJSON(t *testing.T, handler func(http.ResponseWriter, *http.Request) error, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	if err := handler(rec, req); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			rec.Code = httpErr.StatusCode
			return rec
		}
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestRegisterEndpointCreatesCustomer(t *testing.T) {
	endpoints, repo := newTestEndpoints(t)

	rec := postJSON(t, endpoints.Register, "/account/register", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
		Staff       bool   `json:"staff"`
		User        struct {
			Role   string `json:"role"`
			Status string `json:"status"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("no access token issued")
	}
	if resp.Staff {
		t.Fatal("self-signup granted staff")
	}
	if resp.User.Role != "customer" || resp.User.Status != model.UserStatusVerified {
		t.Fatalf("user %+v", resp.User)
	}
	if len(repo.users) != 1 {
		t.Fatalf("%d users stored, want 1", len(repo.users))
	}
}

func TestLoginEndpointRejectsBadCredentials(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)

	rec := postJSON(t, endpoints.Login, "/account/login", map[string]string{
		"email":    "ghost@example.com",
		"password": "nope",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestMeEndpointRoundTrip(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)

	rec := postJSON(t, endpoints.Register, "/account/register", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d", rec.Code)
	}
	var created struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/account/me", nil)
	req.Header.Set("Authorization", "Bearer "+created.AccessToken)
	meRec := httptest.NewRecorder()
	if err := endpoints.Me(meRec, req); err != nil {
		t.Fatalf("me: %v", err)
	}

	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(meRec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if me.User.Email != "ada@example.com" {
		t.Fatalf("email %q", me.User.Email)
	}
}

func TestRegisterEndpointRejectsWrongMethod(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)

	req := httptest.NewRequest(http.MethodGet, "/account/register", nil)
	rec := httptest.NewRecorder()
	err := endpoints.Register(rec, req)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("error %v, want 405", err)
	}
}

func TestMeEndpointRejectsMalformedAuthorizationHeader(t *testing.T) {
	endpoints, _ := newTestEndpoints(t)

	for _, header := range []string{"abc", "Bearer", "Basic dXNlcg=="} {
		req := httptest.NewRequest(http.MethodGet, "/account/me", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		err := endpoints.Me(rec, req)

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("header %q: error %v, want 401", header, err)
		}
	}
}
