// Package api serves the linker over HTTP: resolving text, inspecting and
// rebuilding the corpus index, editing documents in the Postgres store and
// exposing cache and analytics views.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/linker/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/tracing"
)

// DocumentStore is the writable document source. *vault.PostgresSource
// implements it.
type DocumentStore interface {
	Upsert(ctx context.Context, doc corpus.Document) (events.ChangeType, error)
	// Move renames oldPath to doc.ID and writes doc atomically.
	Move(ctx context.Context, oldPath string, doc corpus.Document) (events.ChangeType, error)
	Delete(ctx context.Context, path string) error
}

// Tracker receives analytics events. *analytics.Collector implements it.
type Tracker interface {
	Track(event any)
}

// Config holds the request limits of the API.
type Config struct {
	MaxTextBytes   int64
	RebuildTimeout time.Duration
}

// Handler implements the linker HTTP endpoints. Cache, tracker, metrics and
// documents are optional.
type Handler struct {
	index     *corpus.Index
	resolver  *linker.Resolver
	cache     *cache.ResolveCache
	tracker   Tracker
	metrics   *metrics.Metrics
	documents DocumentStore
	cfg       Config
	logger    *slog.Logger
}

// Option configures optional collaborators of a Handler.
type Option func(*Handler)

func WithCache(c *cache.ResolveCache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithTracker(t Tracker) Option {
	return func(h *Handler) { h.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithDocuments(d DocumentStore) Option {
	return func(h *Handler) { h.documents = d }
}

// New creates a Handler. Zero Config fields select defaults.
func New(index *corpus.Index, resolver *linker.Resolver, cfg Config, opts ...Option) *Handler {
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 1 << 20
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = 30 * time.Second
	}
	h := &Handler{
		index:    index,
		resolver: resolver,
		cfg:      cfg,
		logger:   slog.Default().With("component", "api-handler"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type resolveRequest struct {
	Text          string `json:"text"`
	MaxCandidates *int   `json:"max_candidates,omitempty"`
}

type resolveResponse struct {
	Text         string              `json:"text"`
	Suggestions  []linker.Suggestion `json:"suggestions"`
	Links        []linker.Link       `json:"links"`
	IndexVersion uint64              `json:"index_version"`
	CacheHit     bool                `json:"cache_hit"`
}

// Resolve handles POST /api/v1/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := logger.RequestID(r.Context())
	ctx, span := tracing.StartSpan(r.Context(), "resolve", requestID)
	log := logger.FromContext(ctx)

	var req resolveRequest
	// Allow for JSON escaping overhead on top of the text limit.
	if err := decodeJSON(w, r, &req, 2*h.cfg.MaxTextBytes+1024); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if int64(len(req.Text)) > h.cfg.MaxTextBytes {
		h.writeAppError(w, r, apperrors.Newf(apperrors.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge,
			"text is %d bytes, limit is %d", len(req.Text), h.cfg.MaxTextBytes))
		return
	}
	maxCandidates := h.resolver.MaxCandidates()
	if req.MaxCandidates != nil {
		if *req.MaxCandidates < 1 {
			h.writeAppError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"max_candidates must be a positive integer"))
			return
		}
		maxCandidates = *req.MaxCandidates
	}

	snap := h.index.Snapshot()
	if !snap.Built() {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrIndexNotReady, http.StatusServiceUnavailable,
			"corpus index has not been built yet"))
		return
	}
	version := snap.Version()
	span.SetAttr("index_version", version)

	compute := func() (*linker.Result, error) {
		_, s := tracing.StartChildSpan(ctx, "link")
		defer s.End()
		res := h.resolver.ResolveWithThreshold(req.Text, snap, maxCandidates)
		return &res, nil
	}

	var result *linker.Result
	cacheHit := false
	if h.cache != nil {
		cctx, s := tracing.StartChildSpan(ctx, "cache")
		var err error
		result, cacheHit, err = h.cache.GetOrCompute(cctx, snap.Fingerprint(), maxCandidates, req.Text, compute)
		s.SetAttr("hit", cacheHit)
		s.End()
		if err != nil {
			log.Error("resolve failed", "error", err)
			h.writeAppError(w, r, fmt.Errorf("%w: %v", apperrors.ErrInternal, err))
			return
		}
	} else {
		result, _ = compute()
	}

	latency := time.Since(start)
	span.SetAttr("links", len(result.Links))
	span.SetAttr("suggestions", len(result.Suggestions))
	span.End()
	span.Log(log)

	if h.metrics != nil {
		h.metrics.ObserveResolve(len(result.Links), len(result.Suggestions), cacheHit, latency.Seconds())
	}
	if h.tracker != nil {
		h.tracker.Track(analytics.NewResolveEvent(result, len(req.Text), version, latency, cacheHit, requestID))
	}
	log.Info("resolve completed",
		"text_bytes", len(req.Text),
		"links", len(result.Links),
		"suggestions", len(result.Suggestions),
		"index_version", version,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)

	links := result.Links
	if links == nil {
		links = []linker.Link{}
	}
	w.Header().Set("Server-Timing", span.ServerTiming())
	h.writeJSON(w, http.StatusOK, resolveResponse{
		Text:         result.Text,
		Suggestions:  result.Suggestions,
		Links:        links,
		IndexVersion: version,
		CacheHit:     cacheHit,
	})
}

// Rebuild handles POST /api/v1/index/rebuild.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var snap *corpus.Snapshot
	err := resilience.WithTimeout(r.Context(), h.cfg.RebuildTimeout, "index-rebuild", func(ctx context.Context) error {
		var err error
		snap, err = h.index.Rebuild(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, corpus.ErrNoSource) {
			err = apperrors.New(apperrors.ErrSourceUnavailable, http.StatusServiceUnavailable, "no document source configured")
		}
		h.writeAppError(w, r, err)
		return
	}
	if h.cache != nil {
		if _, err := h.cache.Invalidate(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn("cache invalidation after rebuild failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, snap.Stats())
}

// IndexStats handles GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	snap := h.index.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"built":          snap.Built(),
		"update_pending": h.index.UpdatePending(),
		"stats":          snap.Stats(),
	})
}

type candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type termResponse struct {
	Term       string      `json:"term"`
	Kind       string      `json:"kind"`
	Target     *candidate  `json:"target,omitempty"`
	Candidates []candidate `json:"candidates,omitempty"`
}

// LookupTerm handles GET /api/v1/index/terms/{term}.
func (h *Handler) LookupTerm(w http.ResponseWriter, r *http.Request) {
	term := corpus.NormalizeTerm(r.PathValue("term"))
	if term == "" {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "term is required"))
		return
	}
	snap := h.index.Snapshot()
	if id, ok := snap.LookupExact(term); ok {
		h.writeJSON(w, http.StatusOK, termResponse{
			Term:   term,
			Kind:   "exact",
			Target: &candidate{ID: id, Name: snap.DisplayName(id)},
		})
		return
	}
	if ids := snap.LookupAmbiguous(term); len(ids) > 0 {
		resp := termResponse{Term: term, Kind: "ambiguous"}
		for _, id := range ids {
			resp.Candidates = append(resp.Candidates, candidate{ID: id, Name: snap.DisplayName(id)})
		}
		h.writeJSON(w, http.StatusOK, resp)
		return
	}
	h.writeAppError(w, r, apperrors.Newf(apperrors.ErrTermNotFound, http.StatusNotFound, "no document matches %q", term))
}

type documentRequest struct {
	Path    string   `json:"path"`
	OldPath string   `json:"old_path,omitempty"`
	Title   string   `json:"title,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// PutDocument handles POST /api/v1/documents. With old_path set the document
// is moved and written in one step; a taken path answers 409.
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	if h.documents == nil {
		h.writeError(w, http.StatusServiceUnavailable, "document store is not configured")
		return
	}
	var req documentRequest
	if err := decodeJSON(w, r, &req, 64<<10); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "path is required"))
		return
	}
	doc := corpus.Document{ID: req.Path, Title: req.Title, Aliases: req.Aliases}
	var (
		change events.ChangeType
		err    error
	)
	if req.OldPath != "" && req.OldPath != req.Path {
		change, err = h.documents.Move(r.Context(), req.OldPath, doc)
	} else {
		change, err = h.documents.Upsert(r.Context(), doc)
	}
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.index.ScheduleIncrementalUpdate()

	status := http.StatusOK
	if change == events.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, map[string]string{"path": req.Path, "change": string(change)})
}

// DeleteDocument handles DELETE /api/v1/documents?path=...
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if h.documents == nil {
		h.writeError(w, http.StatusServiceUnavailable, "document store is not configured")
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'path' is required"))
		return
	}
	if err := h.documents.Delete(r.Context(), path); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.index.ScheduleIncrementalUpdate()
	w.WriteHeader(http.StatusNoContent)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	s := h.cache.Stats(r.Context())
	total := s.Hits + s.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(s.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     s.Hits,
		"misses":   s.Misses,
		"entries":  s.Entries,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.Newf(apperrors.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "request body is empty")
		default:
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body")
		}
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err to a status. Client errors echo their message;
// server errors are logged and answered generically.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, status, "internal server error")
		return
	}
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	h.writeError(w, status, msg)
}
