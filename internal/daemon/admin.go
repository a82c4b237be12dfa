package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Swind/go-service-thread/core"
	"github.com/Swind/go-service-thread/subsystems"
)

const shutdownTimeout = 5 * time.Second

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Thread                core.ServiceThreadStats    `json:"thread"`
	Safepoint             core.SafepointStats        `json:"safepoint"`
	StringTable           subsystems.InternStats     `json:"string_table"`
	SymbolTable           subsystems.InternStats     `json:"symbol_table"`
	ResolvedMethodTable   subsystems.WeakTableStats  `json:"resolved_method_table"`
	ProtectionDomainTable subsystems.WeakTableStats  `json:"protection_domain_table"`
	MemoryPools           []subsystems.PoolStats     `json:"memory_pools"`
	GCNotifications       subsystems.GCNotifierStats `json:"gc_notifications"`
	DCmdSent              uint64                     `json:"dcmd_sent"`
	Agents                subsystems.AgentStats      `json:"agents"`
	LiveObjects           int                        `json:"live_objects"`
}

// AdminServer exposes runtime state over HTTP.
type AdminServer struct {
	rt   *Runtime
	addr string
}

func NewAdminServer(rt *Runtime, addr string) *AdminServer {
	return &AdminServer{rt: rt, addr: addr}
}

// Router returns the admin routes:
//
//	GET  /healthz          200 while the service thread runs, 503 after it failed
//	GET  /stats            StatsResponse
//	GET  /dispatches       recent dispatch records, ?limit=n
//	GET  /events           recent listener output, ?limit=n
//	POST /gc               run a collection now
//	POST /dcmd/{command}   post a diagnostic-command notification
//	GET  /metrics          Prometheus scrape endpoint
func (s *AdminServer) Router() http.Handler {
	rt := s.rt
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !rt.Thread.IsRunning() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("service thread not running"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatsResponse{
			Thread:                rt.Thread.Stats(),
			Safepoint:             rt.Safepoint.Stats(),
			StringTable:           rt.StringTable.Stats(),
			SymbolTable:           rt.SymbolTable.Stats(),
			ResolvedMethodTable:   rt.ResolvedMethodTable.Stats(),
			ProtectionDomainTable: rt.ProtectionDomainTable.Stats(),
			MemoryPools:           rt.LowMemory.Pools(),
			GCNotifications:       rt.GCNotifier.Stats(),
			DCmdSent:              rt.DCmdNotifier.Sent(),
			Agents:                rt.Agents.Stats(),
			LiveObjects:           rt.Heap.Live(),
		})
	})

	r.Get("/dispatches", func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		records := rt.Thread.RecentDispatches(limit)
		out := make([]dispatchView, 0, len(records))
		for _, rec := range records {
			out = append(out, newDispatchView(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"dispatches": out})
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": rt.Events.Recent(limit)})
	})

	r.Post("/gc", func(w http.ResponseWriter, r *http.Request) {
		res, err := rt.Collector.Collect(r.Context(), "admin")
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/dcmd/{command}", func(w http.ResponseWriter, r *http.Request) {
		command := chi.URLParam(r, "command")
		rt.DCmdNotifier.Post(command)
		writeJSON(w, http.StatusAccepted, map[string]any{"command": command})
	})

	r.Get("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}).ServeHTTP)

	return r
}

// Serve listens on the configured address until ctx is done.
func (s *AdminServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *AdminServer) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.rt.logger.Info("admin server listening", core.F("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.rt.logger.Warn("admin server shutdown", core.F("error", err))
		}
		return nil
	}
}

// dispatchView renders a DispatchRecord with readable source and kind names.
type dispatchView struct {
	Iteration  uint64    `json:"iteration"`
	Source     string    `json:"source"`
	EventID    string    `json:"event_id,omitempty"`
	EventKind  string    `json:"event_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationUs int64     `json:"duration_us"`
	Err        string    `json:"error,omitempty"`
}

func newDispatchView(rec core.DispatchRecord) dispatchView {
	v := dispatchView{
		Iteration:  rec.Iteration,
		Source:     rec.Source.String(),
		EventID:    rec.EventID,
		StartedAt:  rec.StartedAt,
		DurationUs: rec.Duration.Microseconds(),
		Err:        rec.Err,
	}
	if rec.EventID != "" {
		v.EventKind = rec.EventKind.String()
	}
	return v
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  status,
	})
}
