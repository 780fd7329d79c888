package api

import (
	"net/http"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/queue"
	"support-chat-backend/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	db                  *database.Database
	routeRegistrars     []RouteRegistrar
	gateway             *websocket.Gateway
	metrics             *metrics
	logger              *zap.Logger
}

func NewAPIServer(listenAddr string, rqm *queue.RequestQueueManager, db *database.Database, gateway *websocket.Gateway, logger *zap.Logger, registrars ...RouteRegistrar) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &APIServer{
		listenAddr:          listenAddr,
		requestQueueManager: rqm,
		db:                  db,
		gateway:             gateway,
		routeRegistrars:     registrars,
		metrics:             newMetrics(prometheus.DefaultRegisterer, listenAddr, rqm),
		logger:              logger,
	}
}

func (s *APIServer) Run() {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	s.logger.Info("server listening", zap.String("addr", s.listenAddr))

	if err := http.ListenAndServe(s.listenAddr, s.metrics.instrument(mux)); err != nil {
		s.logger.Error("server stopped", zap.Error(err))
	}
}

func (s *APIServer) Database() *database.Database {
	return s.db
}

func (s *APIServer) Gateway() *websocket.Gateway {
	return s.gateway
}

func (s *APIServer) Logger() *zap.Logger {
	return s.logger
}
