package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Components reported by /healthz.
const (
	ComponentKafka  = "kafka"
	ComponentBroker = "broker"
	ComponentLedger = "ledger"
)

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth *health.Server
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	mu         sync.RWMutex
	ready      bool
	components map[string]bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthChecker{
		grpcHealth: health.NewServer(),
		mux:        http.NewServeMux(),
		logger:     logger,
		ready:      true,
		components: make(map[string]bool),
	}
	h.mux.HandleFunc("/healthz", h.handleHealthz)
	return h
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.syncGRPC()
}

// Handle mounts an extra operator endpoint next to /healthz.
func (h *HealthChecker) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Handler returns the HTTP mux.
func (h *HealthChecker) Handler() http.Handler {
	return h.mux
}

// StartHTTPServer starts the HTTP health check server
func (h *HealthChecker) StartHTTPServer(addr string) error {
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.mux,
	}

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	return h.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.mu.Unlock()
	h.syncGRPC()

	if h.httpServer != nil {
		return h.httpServer.Shutdown(ctx)
	}
	return nil
}

// SetComponentReady records the readiness of one dependency. A
// component that never reported is not considered.
func (h *HealthChecker) SetComponentReady(name string, ready bool) {
	h.mu.Lock()
	prev, seen := h.components[name]
	h.components[name] = ready
	h.mu.Unlock()

	if !seen || prev != ready {
		h.logger.Info("component readiness changed",
			zap.String("component", name),
			zap.Bool("ready", ready),
		)
	}
	h.syncGRPC()
}

// Ready reports overall readiness and the components holding it back.
func (h *HealthChecker) Ready() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var waiting []string
	for name, ok := range h.components {
		if !ok {
			waiting = append(waiting, name)
		}
	}
	sort.Strings(waiting)
	return h.ready && len(waiting) == 0, waiting
}

func (h *HealthChecker) syncGRPC() {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok, _ := h.Ready(); ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus("", status)
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ready, waiting := h.Ready()
	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT_READY"))
	for _, name := range waiting {
		w.Write([]byte(" " + name))
	}
}

// JSONHandler serves the value returned by snapshot as indented JSON.
func JSONHandler(snapshot func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		if err := enc.Encode(snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
