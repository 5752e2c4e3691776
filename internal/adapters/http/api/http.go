// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/zydorg/kemunify/internal/adapters/drive"
	"github.com/zydorg/kemunify/internal/adapters/export"
	"github.com/zydorg/kemunify/internal/adapters/identity"
	"github.com/zydorg/kemunify/internal/adapters/mq/queue"
	"github.com/zydorg/kemunify/internal/adapters/repository"
	service "github.com/zydorg/kemunify/internal/app"
	"github.com/zydorg/kemunify/internal/domain/detection"
	"github.com/zydorg/kemunify/internal/domain/model"
)

const maxJSONBody = 1 << 20

// Dependencies required by HTTP handlers. Each handler only sees the slice
// of the service it needs.
type Dependencies interface {
	LedgerDependencies
	FeedDependencies
	ExportDependencies
	AuthDependencies
	DetectionDependencies
	StatsProvider
}

// Server wires HTTP routes for the ledger API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	ledgerHandler    *LedgerHandler
	feedHandler      *FeedHandler
	exportHandler    *ExportHandler
	authHandler      *AuthHandler
	detectionHandler *DetectionHandler
	auth             *AuthMiddleware
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		ledgerHandler:    NewLedgerHandler(deps),
		feedHandler:      NewFeedHandler(deps),
		exportHandler:    NewExportHandler(deps),
		authHandler:      NewAuthHandler(deps),
		detectionHandler: NewDetectionHandler(deps),
		auth:             NewAuthMiddleware(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	open := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
	}
	guarded := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(s.auth.Wrap(h), endpoint))
	}

	open("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	open("POST /auth/google", "auth_google", s.authHandler.HandleGoogle)
	guarded("GET /auth/session", "auth_session", s.authHandler.HandleSession)
	guarded("POST /auth/logout", "auth_logout", s.authHandler.HandleLogout)

	guarded("GET /stats", "stats", s.statsHandler.HandleStats)

	guarded("GET /waste-types", "waste_types", s.ledgerHandler.HandleListWasteTypes)
	guarded("POST /waste-types", "waste_types", s.ledgerHandler.HandleAddWasteType)
	guarded("GET /waste-types/{name}", "waste_type", s.ledgerHandler.HandleGetWasteType)
	guarded("PUT /waste-types/{name}", "waste_type", s.ledgerHandler.HandleRenameWasteType)
	guarded("DELETE /waste-types/{name}", "waste_type", s.ledgerHandler.HandleDeleteWasteType)
	guarded("PUT /waste-types/{name}/weights/{customer}", "weight", s.ledgerHandler.HandleUpdateWeight)

	guarded("GET /customers", "customers", s.ledgerHandler.HandleListCustomers)
	guarded("POST /customers", "customers", s.ledgerHandler.HandleAddCustomer)
	guarded("DELETE /customers", "customers", s.ledgerHandler.HandleDeleteAllCustomers)
	guarded("DELETE /customers/{name}", "customer", s.ledgerHandler.HandleDeleteCustomer)

	guarded("GET /recap", "recap", s.ledgerHandler.HandleRecap)

	guarded("GET /exports", "exports", s.exportHandler.HandleList)
	guarded("POST /exports", "exports", s.exportHandler.HandleCreate)
	guarded("GET /exports/{file}", "export", s.exportHandler.HandleDownload)
	guarded("POST /exports/{file}/upload", "export_upload", s.exportHandler.HandleUpload)

	guarded("POST /detections", "detections", s.detectionHandler.HandleDetect)
	guarded("POST /frames", "frames", s.detectionHandler.HandleFrame)

	guarded("GET /ws/ledger", "ws_ledger", s.feedHandler.HandleLedger)
	guarded("GET /ws/detections", "ws_detections", s.feedHandler.HandleDetections)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err onto a status and writes it.
func fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case isAny(err, ErrBadRequest, model.ErrInvalidName, model.ErrInvalidWeight, export.ErrInvalidName,
		detection.ErrInvalidRotation, detection.ErrNoImage, detection.ErrInvalidDelegate, detection.ErrFrameTooLarge):
		return http.StatusBadRequest, "bad_request"
	case isAny(err, ErrNotFound, repository.ErrNotFound, export.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case isAny(err, ErrUnauthorized, service.ErrNotSignedIn, identity.ErrInvalidToken, identity.ErrNonceMismatch,
		identity.ErrNonceReplayed, identity.ErrMissingEmail, identity.ErrUnsupportedCredential):
		return http.StatusUnauthorized, "unauthorized"
	case isAny(err, ErrBackpressure, service.ErrUploadBusy, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case isAny(err, ErrUnavailable, service.ErrUploadsDisabled, service.ErrDetectionDisabled, service.ErrNotStarted,
		drive.ErrDisabled, identity.ErrNoClientID, queue.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, detection.ErrBackend):
		return http.StatusBadGateway, "bad_gateway"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
