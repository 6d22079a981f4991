package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"KasaLedger/internal/ingestion"
	"KasaLedger/internal/observability"
	"KasaLedger/internal/persistence"
	"KasaLedger/internal/projection"
	"KasaLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps the gRPC server and the HTTP/JSON gateway.
// HTTP/JSON is served via a gRPC-Gateway mux for tooling, dashboards
// and curl; the gRPC side carries health and reflection for probes.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	deps          *Deps
	logger        zerolog.Logger
}

// Deps holds all dependencies needed by the API handlers.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.Service
	InjectService *ingestion.AdminInjectService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func NewServer(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		deps:          deps,
		logger:        observability.NewLogger("server"),
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON gateway (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/positions", s.handleListPositions},
		{"GET", "/v1/positions/{owner}", s.handleGetPosition},
		{"GET", "/v1/system", s.handleSystemState},
		{"GET", "/v1/liquidations", s.handleLiquidations},
		{"GET", "/v1/redemptions", s.handleRedemptions},
		{"GET", "/v1/events/{owner}", s.handleEvents},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/eventlog", s.handleEventLogInfo},
		{"POST", "/v1/admin/projections/rebuild", s.handleRebuildProjections},
		{"POST", "/v1/admin/inject/price", s.handleInjectPrice},
		{"POST", "/v1/admin/inject/liquidation", s.handleInjectLiquidation},
		{"POST", "/v1/admin/inject/riskparams", s.handleInjectRiskParams},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	defer s.observeQuery("get_position", start)

	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid owner: %v", err))
		return
	}

	price, _ := strconv.ParseUint(r.URL.Query().Get("price"), 10, 64)

	resp, err := s.deps.QueryService.GetPosition(r.Context(), owner, price)
	if err != nil {
		s.queryError(w, "get_position", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	defer s.observeQuery("list_positions", start)

	limit := parseLimit(r, 100, 500)

	var afterOwner *uuid.UUID
	if c := r.URL.Query().Get("after"); c != "" {
		id, err := uuid.Parse(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid after cursor: %v", err))
			return
		}
		afterOwner = &id
	}

	resp, err := s.deps.QueryService.ListPositions(r.Context(), limit, afterOwner)
	if err != nil {
		s.queryError(w, "list_positions", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": resp})
}

func (s *Server) handleSystemState(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	defer s.observeQuery("system_state", start)

	resp, err := s.deps.QueryService.GetSystemState(r.Context())
	if err != nil {
		s.queryError(w, "system_state", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	defer s.observeQuery("liquidations", start)

	limit := parseLimit(r, 50, 200)

	var owner *uuid.UUID
	if o := r.URL.Query().Get("owner"); o != "" {
		id, err := uuid.Parse(o)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid owner: %v", err))
			return
		}
		owner = &id
	}

	afterSeq := parseAfterSequence(r)

	resp, err := s.deps.QueryService.GetLiquidations(r.Context(), owner, limit, afterSeq)
	if err != nil {
		s.queryError(w, "liquidations", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": resp})
}

func (s *Server) handleRedemptions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	defer s.observeQuery("redemptions", start)

	limit := parseLimit(r, 50, 200)

	var redeemer *uuid.UUID
	if o := r.URL.Query().Get("redeemer"); o != "" {
		id, err := uuid.Parse(o)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid redeemer: %v", err))
			return
		}
		redeemer = &id
	}

	afterSeq := parseAfterSequence(r)

	resp, err := s.deps.QueryService.GetRedemptions(r.Context(), redeemer, limit, afterSeq)
	if err != nil {
		s.queryError(w, "redemptions", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"redemptions": resp})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	defer s.observeQuery("events", start)

	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid owner: %v", err))
		return
	}

	limit := parseLimit(r, 100, 500)
	afterSeq := parseAfterSequence(r)

	resp, err := s.deps.QueryService.GetEvents(r.Context(), owner, limit, afterSeq)
	if err != nil {
		s.queryError(w, "events", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": resp})
}

// ============================================================================
// Admin handlers
// ============================================================================

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.queryError(w, "verify_integrity", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		s.queryError(w, "eventlog_info", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence":  latestSeq,
		"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := projection.Rebuild(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rebuild failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (s *Server) handleInjectPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Price         uint64 `json:"price"`
		PriceSequence int64  `json:"price_sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	if err := s.deps.InjectService.InjectPrice(r.Context(), req.Price, req.PriceSequence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *Server) handleInjectLiquidation(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Candidates []string `json:"candidates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	candidates := make([]uuid.UUID, 0, len(req.Candidates))
	for i, c := range req.Candidates {
		id, err := uuid.Parse(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid candidates[%d]: %v", i, err))
			return
		}
		candidates = append(candidates, id)
	}

	if err := s.deps.InjectService.InjectLiquidation(r.Context(), candidates); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *Server) handleInjectRiskParams(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		MinCollateralRatioPct uint64 `json:"min_collateral_ratio_pct"`
		RecoveryRatioPct      uint64 `json:"recovery_ratio_pct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	if err := s.deps.InjectService.InjectRiskParams(r.Context(), req.MinCollateralRatioPct, req.RecoveryRatioPct); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) observeQuery(endpoint string, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) queryError(w http.ResponseWriter, endpoint string, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseLimit(r *http.Request, def, max int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > max {
		return def
	}
	return limit
}

func parseAfterSequence(r *http.Request) *int64 {
	seq, err := strconv.ParseInt(r.URL.Query().Get("after_sequence"), 10, 64)
	if err != nil || seq <= 0 {
		return nil
	}
	return &seq
}
