package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"
)

// newDiagnosticsMux builds the loopback-only operational surface, grounded
// on the teacher's resolveDiagnosticsMux/api.Handler shape but trimmed to
// the two routes SPEC_FULL.md §4 asks for: a liveness probe and a counters
// dump. Neither route ever carries command text, per spec.md §4.G's "no
// command content leaves the local host" guarantee extended to loopback
// HTTP as well.
func (s *Server) newDiagnosticsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/debug/vars", s.handleDebugVars)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleDebugVars(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		count = -1
	}

	s.mu.Lock()
	served := s.suggestionsServed
	s.mu.Unlock()
	qstats := s.queue.Stats()

	vars := struct {
		UptimeS           float64 `json:"uptime_s"`
		EventsStored      int64   `json:"events_stored"`
		SuggestionsServed int64   `json:"suggestions_served"`
		QueueDepth        int     `json:"queue_depth"`
		QueueCapacity     int     `json:"queue_capacity"`
		QueueDropped      int64   `json:"queue_dropped"`
	}{
		UptimeS:           time.Since(s.startTime).Seconds(),
		EventsStored:      count,
		SuggestionsServed: served,
		QueueDepth:        qstats.CurrentSize,
		QueueCapacity:     qstats.MaxSize,
		QueueDropped:      qstats.TotalDropped,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vars)
}

// startDiagnostics opens the loopback HTTP listener on addr, if addr is
// non-empty, and serves it until Shutdown. A bind failure is logged and
// otherwise ignored: the diagnostics surface is operational convenience,
// never load-bearing for request handling (spec.md §4.H's request path
// must never depend on it).
func (s *Server) startDiagnostics(addr string) {
	if addr == "" {
		return
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Warn("failed to start diagnostics listener", "addr", addr, "error", err)
		return
	}
	s.diagListener = listener
	s.diagHTTPServer = &http.Server{
		Handler:           s.newDiagnosticsMux(),
		ReadHeaderTimeout: 2 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.diagHTTPServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("diagnostics http server failed", "error", err)
		}
	}()
	s.logger.Info("diagnostics surface listening", "addr", listener.Addr().String())
}

func (s *Server) stopDiagnostics() {
	if s.diagHTTPServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.diagHTTPServer.Shutdown(ctx)
}
