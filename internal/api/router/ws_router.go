package router

import (
	"net/http"

	"support-chat-backend/internal/api"
)

// WebsocketRoutes registers the upgrade endpoint directly on the mux. The
// request-queue wrapper is skipped on purpose: the upgrade hijacks the
// connection and holds it for the session's lifetime, which would pin a
// queue worker.
func WebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		mux.HandleFunc(prefix+"/ws", s.Gateway().ServeWS)
	}
}
