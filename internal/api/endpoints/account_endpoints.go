package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"support-chat-backend/internal/auth"
	"support-chat-backend/internal/database"
	"support-chat-backend/internal/dto"
	"support-chat-backend/internal/model"
	accountsvc "support-chat-backend/internal/service/account"
)

type AccountEndpoints interface {
	Register(http.ResponseWriter, *http.Request) error
	Login(http.ResponseWriter, *http.Request) error
	Refresh(http.ResponseWriter, *http.Request) error
	Me(http.ResponseWriter, *http.Request) error
}

type accountEndpoints struct {
	service *accountsvc.Service
	guard   *auth.Guard
}

func NewAccountEndpoints(db *database.Database) AccountEndpoints {
	return &accountEndpoints{
		service: accountsvc.New(db),
		guard:   auth.NewGuard(),
	}
}

func NewAccountEndpointsWithService(service *accountsvc.Service, guard *auth.Guard) AccountEndpoints {
	return &accountEndpoints{
		service: service,
		guard:   guard,
	}
}

func (h *accountEndpoints) Register(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleRegister,
	})
}

func (h *accountEndpoints) Login(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleLogin,
	})
}

func (h *accountEndpoints) Refresh(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleRefresh,
	})
}

func (h *accountEndpoints) Me(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleMe,
	})
}

func (h *accountEndpoints) handleRegister(w http.ResponseWriter, r *http.Request) error {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode register request: %w", err),
		}
	}

	result, err := h.service.Register(r.Context(), accountsvc.RegisterParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, toAuthResponse(result))
}

func (h *accountEndpoints) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode login request: %w", err),
		}
	}

	result, err := h.service.Login(r.Context(), accountsvc.LoginParams{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toAuthResponse(result))
}

func (h *accountEndpoints) handleRefresh(w http.ResponseWriter, r *http.Request) error {
	var req dto.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode refresh request: %w", err),
		}
	}

	accessToken, err := h.service.Refresh(req.RefreshToken, req.Staff)
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.RefreshResponse{AccessToken: accessToken})
}

func (h *accountEndpoints) handleMe(w http.ResponseWriter, r *http.Request) error {
	claims, err := h.guard.Authenticate(ExtractTokenFromHeaders(r))
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   err,
		}
	}

	user, err := h.service.Me(r.Context(), accountsvc.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Staff:  claims.Staff,
	})
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.MeResponse{User: toUserResponse(user)})
}

func toAuthResponse(result accountsvc.AuthResult) dto.AuthResponse {
	return dto.AuthResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		Staff:        result.Staff,
		User:         toUserResponse(result.User),
	}
}

func toUserResponse(user model.UserItem) dto.UserResponse {
	return dto.UserResponse{
		UserID:    user.UserID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Status:    user.Status,
		CreatedAt: user.CreatedAt,
	}
}

func serviceError(err error) error {
	var svcErr *accountsvc.Error
	if !errors.As(err, &svcErr) {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   err,
		}
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case accountsvc.ErrorCodeValidation:
		status = http.StatusBadRequest
	case accountsvc.ErrorCodeUnauthorized:
		status = http.StatusUnauthorized
	case accountsvc.ErrorCodeConflict:
		status = http.StatusConflict
	case accountsvc.ErrorCodeNotFound:
		status = http.StatusNotFound
	}

	return &HTTPError{
		StatusCode: status,
		Message:    svcErr.Message,
		ErrorLog:   err,
	}
}
