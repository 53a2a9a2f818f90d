package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/fingerprint"
	"github.com/cmdsense/suggestd/internal/privacy"
	"github.com/cmdsense/suggestd/internal/protocol"
	"github.com/cmdsense/suggestd/internal/store"
	"github.com/cmdsense/suggestd/internal/suggest"
	"github.com/cmdsense/suggestd/internal/tokenize"
)

// dispatch routes one request Frame to its handler under the per-type
// timeout spec.md §4.H assigns, and translates the handler's error into
// the wire error shape. A handler that returns (nil payload, nil error)
// is expected to have built its own success Frame (currently unused, kept
// for handlers that need full control over the response Type).
func (s *Server) dispatch(ctx context.Context, frame protocol.Frame) protocol.Frame {
	timeout, ok := timeoutFor(frame.Type)
	if !ok {
		return protocol.ErrorFrame(frame.ID, protocol.ErrBadRequest, "unknown request type", false)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := s.handle(hctx, frame)
	if err != nil {
		return frameForError(frame.ID, err)
	}

	resp, encErr := protocol.DataFrame(frame.ID, frame.Type, payload)
	if encErr != nil {
		return protocol.ErrorFrame(frame.ID, protocol.ErrBackendError, encErr.Error(), false)
	}
	return resp
}

func timeoutFor(t protocol.Type) (time.Duration, bool) {
	switch t {
	case protocol.TypeSuggest:
		return timeoutSuggest, true
	case protocol.TypeLog:
		return timeoutLog, true
	case protocol.TypeStatus, protocol.TypeSearch, protocol.TypeExplain, protocol.TypeFeedback, protocol.TypeShutdown:
		return timeoutMaintenance, true
	case protocol.TypePing:
		return timeoutDefault, true
	default:
		return 0, false
	}
}

// Wire size limits from spec.md §3's Event field bounds and §8's boundary
// behavior ("suggest with partial exceeding 64 KiB: BadRequest").
const (
	maxCommandBytes = 64 * 1024
	maxCWDBytes     = 4 * 1024
)

func (s *Server) handle(ctx context.Context, frame protocol.Frame) (any, error) {
	switch frame.Type {
	case protocol.TypePing:
		return protocol.StatusPayload{Status: "ok"}, nil
	case protocol.TypeStatus:
		return s.handleStatus(ctx)
	case protocol.TypeLog:
		return s.handleLog(ctx, frame)
	case protocol.TypeSuggest:
		return s.handleSuggest(ctx, frame)
	case protocol.TypeFeedback:
		return s.handleFeedback(ctx, frame)
	case protocol.TypeSearch:
		return s.handleSearch(ctx, frame)
	case protocol.TypeExplain:
		return s.handleExplain(ctx, frame)
	case protocol.TypeShutdown:
		return s.handleShutdown(ctx)
	default:
		return nil, badRequestf("unrecognized request type %q", frame.Type)
	}
}

// badRequestErr tags an error as a client mistake rather than a server
// fault, so frameForError can pick the right protocol.ErrorKind without
// each handler constructing a Frame directly.
type badRequestErr struct{ msg string }

func (e badRequestErr) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return badRequestErr{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) handleStatus(ctx context.Context) (protocol.StatusResponse, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return protocol.StatusResponse{}, err
	}

	var degraded []string
	if s.embedMgr == nil {
		degraded = append(degraded, "embedding_model")
	}
	if s.annIdx == nil || !s.annIdx.IsBuilt() {
		degraded = append(degraded, "ann_index")
	}

	s.mu.Lock()
	served := s.suggestionsServed
	s.mu.Unlock()

	qstats := s.queue.Stats()

	return protocol.StatusResponse{
		UptimeS:           time.Since(s.startTime).Seconds(),
		EventsStored:      count,
		SuggestionsServed: served,
		Degraded:          degraded,
		QueueDepth:        qstats.CurrentSize,
		QueueCapacity:     qstats.MaxSize,
		QueueDropped:      qstats.TotalDropped,
	}, nil
}

// handleLog classifies and stores one history event, per spec.md §4.A/§4.C.
// A privacy-dropped command is acknowledged, never stored, and never
// queued for embedding.
func (s *Server) handleLog(ctx context.Context, frame protocol.Frame) (protocol.LogResponse, error) {
	var req protocol.LogRequest
	if err := frame.Decode(&req); err != nil {
		return protocol.LogResponse{}, badRequestf("decode log request: %v", err)
	}
	if req.Command == "" {
		return protocol.LogResponse{}, badRequestf("command is required")
	}
	if len(req.Command) > maxCommandBytes {
		return protocol.LogResponse{}, badRequestf("command exceeds %d bytes", maxCommandBytes)
	}
	if len(req.CWD) > maxCWDBytes {
		return protocol.LogResponse{}, badRequestf("cwd exceeds %d bytes", maxCWDBytes)
	}

	disposition, reason := privacy.Accept, ""
	if s.privacyF != nil {
		disposition, reason = s.privacyF.Classify(req.Command, req.CWD)
	}
	if disposition == privacy.Drop {
		return protocol.LogResponse{Rejected: reason}, nil
	}

	fp := fingerprint.Of(req.Command)
	// A command whose tokenization yields zero tokens (e.g. pure
	// whitespace) is accepted as redacted-noise per spec.md §8's boundary
	// behavior: stored for the id sequence but never with its command
	// text, and never folded into the rolling training corpus below.
	zeroTokens := len(tokenize.Tokenize(req.Command).Words) == 0
	redacted := disposition == privacy.Redact || zeroTokens

	id, err := s.store.Append(ctx, store.AppendInput{
		SessionID:   req.SessionID,
		Command:     req.Command,
		CWD:         req.CWD,
		Fingerprint: fp.Hash,
		ExitCode:    req.ExitCode,
		DurationNS:  req.DurationNS,
		Redacted:    redacted,
	})
	if err != nil {
		return protocol.LogResponse{}, err
	}

	s.mu.Lock()
	s.commandsLogged++
	s.mu.Unlock()

	if !redacted {
		s.queue.Enqueue(EncodeJob{
			EventID:     id,
			Command:     req.Command,
			CWD:         req.CWD,
			Fingerprint: fp.Hash,
		})
	}

	return protocol.LogResponse{ID: id, Rejected: reason}, nil
}

func (s *Server) handleSuggest(ctx context.Context, frame protocol.Frame) (protocol.SuggestResponse, error) {
	var req protocol.SuggestRequest
	if err := frame.Decode(&req); err != nil {
		return protocol.SuggestResponse{}, badRequestf("decode suggest request: %v", err)
	}
	if len(req.Partial) > maxCommandBytes {
		return protocol.SuggestResponse{}, badRequestf("partial exceeds %d bytes", maxCommandBytes)
	}
	if len(req.CWD) > maxCWDBytes {
		return protocol.SuggestResponse{}, badRequestf("cwd exceeds %d bytes", maxCWDBytes)
	}

	resp, err := s.engine.Suggest(ctx, suggest.Request{
		Partial:     req.Partial,
		CWD:         req.CWD,
		History:     req.History,
		Limit:       req.Limit,
		Preferences: preferencesFromPayload(req.Preferences),
	})
	if err != nil {
		return protocol.SuggestResponse{}, err
	}

	s.mu.Lock()
	s.suggestionsServed++
	s.mu.Unlock()

	candidates := make([]protocol.CandidatePayload, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		candidates = append(candidates, protocol.CandidatePayload{
			Command:     c.Command,
			Confidence:  c.Confidence,
			Risk:        c.Risk,
			Source:      string(c.Source),
			Fingerprint: c.Fingerprint,
			ExplainID:   c.ExplainID,
		})
	}
	return protocol.SuggestResponse{Candidates: candidates, Degraded: resp.Degraded}, nil
}

func preferencesFromPayload(p *protocol.PreferencesPayload) *suggest.Preferences {
	if p == nil {
		return nil
	}
	prefs := &suggest.Preferences{
		FactorWeights: p.FactorWeights,
		PreferShort:   p.PreferShort,
	}
	if len(p.Blacklist) > 0 {
		prefs.Blacklist = make(map[string]bool, len(p.Blacklist))
		for _, fp := range p.Blacklist {
			prefs.Blacklist[fp] = true
		}
	}
	if len(p.Whitelist) > 0 {
		prefs.Whitelist = make(map[string]bool, len(p.Whitelist))
		for _, fp := range p.Whitelist {
			prefs.Whitelist[fp] = true
		}
	}
	return prefs
}

func (s *Server) handleFeedback(ctx context.Context, frame protocol.Frame) (protocol.StatusPayload, error) {
	var req protocol.FeedbackRequest
	if err := frame.Decode(&req); err != nil {
		return protocol.StatusPayload{}, badRequestf("decode feedback request: %v", err)
	}
	if err := s.engine.RecordFeedback(ctx, req.ExplainID, req.Accepted); err != nil {
		return protocol.StatusPayload{}, err
	}
	return protocol.StatusPayload{Status: "ok"}, nil
}

func (s *Server) handleSearch(ctx context.Context, frame protocol.Frame) (protocol.SearchResponse, error) {
	var req protocol.SearchRequest
	if err := frame.Decode(&req); err != nil {
		return protocol.SearchResponse{}, badRequestf("decode search request: %v", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	events, err := s.store.Search(ctx, req.Query, limit)
	if err != nil {
		return protocol.SearchResponse{}, err
	}

	out := make([]protocol.EventPayload, 0, len(events))
	for _, ev := range events {
		out = append(out, protocol.EventPayload{
			ID:       ev.ID,
			Command:  ev.Command,
			CWD:      ev.CWD,
			TSNanos:  ev.Timestamp.UnixNano(),
			ExitCode: ev.ExitCode,
		})
	}
	return protocol.SearchResponse{Events: out}, nil
}

func (s *Server) handleExplain(_ context.Context, frame protocol.Frame) (protocol.ExplainResponse, error) {
	var req protocol.ExplainRequest
	if err := frame.Decode(&req); err != nil {
		return protocol.ExplainResponse{}, badRequestf("decode explain request: %v", err)
	}

	b, err := s.engine.Explain(req.ExplainID)
	if err != nil {
		return protocol.ExplainResponse{}, err
	}

	tiers := make([]string, 0, len(b.Tiers))
	for _, t := range b.Tiers {
		tiers = append(tiers, string(t))
	}
	return protocol.ExplainResponse{Tiers: tiers, Factors: b.Factors, FinalScore: b.FinalScore}, nil
}

// handleShutdown acknowledges the request and asynchronously triggers
// Shutdown; the response is written before the connection (and listener)
// closes, mirroring the teacher's graceful-RPC-then-GracefulStop sequence.
func (s *Server) handleShutdown(_ context.Context) (protocol.StatusPayload, error) {
	go s.Shutdown(shutdownTimeout)
	return protocol.StatusPayload{Status: "shutting down"}, nil
}

// frameForError maps an internal error to the protocol error taxonomy of
// spec.md §7.
func frameForError(id string, err error) protocol.Frame {
	var badReq badRequestErr
	switch {
	case errors.As(err, &badReq):
		return protocol.ErrorFrame(id, protocol.ErrBadRequest, err.Error(), false)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, suggest.ErrNotFound):
		return protocol.ErrorFrame(id, protocol.ErrNotFound, err.Error(), false)
	case errors.Is(err, store.ErrStorageFull):
		return protocol.ErrorFrame(id, protocol.ErrStorageFull, err.Error(), false)
	case errors.Is(err, store.ErrCorrupt):
		return protocol.ErrorFrame(id, protocol.ErrCorrupt, err.Error(), false)
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrorFrame(id, protocol.ErrTimeout, err.Error(), true)
	case errors.Is(err, suggest.ErrBackend):
		return protocol.ErrorFrame(id, protocol.ErrBackendError, err.Error(), true)
	default:
		return protocol.ErrorFrame(id, protocol.ErrBackendError, err.Error(), true)
	}
}

// encodeLoop drains the embedding encode queue, per spec.md §5's "encoder
// thread that calls D.encode and appends to E." A nil embedder or ANN
// index leaves tier 2 degraded; the loop still drains the queue so it
// never grows unbounded while waiting for a model to be loaded.
func (s *Server) encodeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainEncodeQueue()
		}
	}
}

func (s *Server) drainEncodeQueue() {
	jobs := s.queue.DequeueN(64)
	if len(jobs) == 0 {
		return
	}
	if s.embedMgr == nil || s.annIdx == nil {
		return
	}

	model := s.embedMgr.Current()
	if model == nil {
		return
	}

	for _, job := range jobs {
		vec := model.Encode(job.Command, &embed.Context{CWDLeaf: filepath.Base(job.CWD), RecentCommands: job.History})
		if err := s.annIdx.Add(vec, ann.Metadata{
			Fingerprint: job.Fingerprint,
			CommandRef:  job.EventID,
			InsertTS:    time.Now().UnixNano(),
		}); err != nil {
			s.logger.Warn("failed to add vector to ann index", "event_id", job.EventID, "error", err)
		}
	}
}
