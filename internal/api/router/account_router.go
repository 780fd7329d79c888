package router

import (
	"net/http"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/endpoints"
	"support-chat-backend/internal/api/middleware"
)

func AccountRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		accountEndpoints := endpoints.NewAccountEndpoints(s.Database())
		mux.HandleFunc(prefix+"/account/register", s.MakeHTTPHandleFunc(accountEndpoints.Register))
		mux.HandleFunc(prefix+"/account/login", s.MakeHTTPHandleFunc(accountEndpoints.Login))
		mux.HandleFunc(prefix+"/account/refresh", s.MakeHTTPHandleFunc(accountEndpoints.Refresh))
		mux.HandleFunc(prefix+"/account/me", s.MakeHTTPHandleFunc(accountEndpoints.Me, middleware.ValidateAnyJWT))
	}
}
