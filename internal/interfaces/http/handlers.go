package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/fundsync/internal/cache"
	"github.com/sawpanic/fundsync/internal/metrics"
	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handlers serves the funding-rate query endpoints.
type Handlers struct {
	repos    *persistence.Repository
	health   persistence.RepositoryHealth
	cache    cache.Cache
	cacheTTL time.Duration
	reg      *metrics.Registry
	log      zerolog.Logger
	started  time.Time
}

// NewHandlers wires the query endpoints. cache may be nil to disable the
// read-through layer on the latest-rates endpoints.
func NewHandlers(repos *persistence.Repository, health persistence.RepositoryHealth, c cache.Cache, cacheTTL time.Duration, reg *metrics.Registry, log zerolog.Logger) *Handlers {
	return &Handlers{
		repos:    repos,
		health:   health,
		cache:    c,
		cacheTTL: cacheTTL,
		reg:      reg,
		log:      log.With().Str("component", "handlers").Logger(),
		started:  time.Now(),
	}
}

type apiResponse struct {
	Data interface{} `json:"data"`
	Page *pageMeta   `json:"page,omitempty"`
}

type pageMeta struct {
	Number int   `json:"number"`
	Size   int   `json:"size"`
	Total  int64 `json:"total,omitempty"`
}

type apiError struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// LatestRates returns the newest history row per symbol, optionally grouped
// by venue and narrowed by symbol or venue.
func (h *Handlers) LatestRates(w http.ResponseWriter, r *http.Request) {
	groupByVenue := r.URL.Query().Get("group_by_venue") == "true"

	filter, status, err := h.buildFilter(r)
	if err != nil {
		h.writeError(w, r, status, err.Error())
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if h.serveCached(w, r, "latest") {
		return
	}

	rows, err := h.repos.History.GetLatestSymbolRates(r.Context(), filter, groupByVenue, page)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	h.writeCacheable(w, r, "latest", apiResponse{
		Data: rows,
		Page: &pageMeta{Number: page.Number, Size: page.Size},
	})
}

// HistoryRates returns raw history rows, newest first, narrowed by symbol,
// venue and a [from, to] ts_rate window.
func (h *Handlers) HistoryRates(w http.ResponseWriter, r *http.Request) {
	filter, status, err := h.buildFilter(r)
	if err != nil {
		h.writeError(w, r, status, err.Error())
		return
	}
	if filter.From, err = parseMillis(r, "from"); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = parseMillis(r, "to"); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.repos.History.GetByFilter(r.Context(), *filter, page)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}
	total, err := h.repos.History.GetCountByFilter(r.Context(), *filter)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Data: rows,
		Page: &pageMeta{Number: page.Number, Size: page.Size, Total: total},
	})
}

// OnlineRates returns the current online rows, narrowed by symbol or venue.
func (h *Handlers) OnlineRates(w http.ResponseWriter, r *http.Request) {
	filter, status, err := h.buildFilter(r)
	if err != nil {
		h.writeError(w, r, status, err.Error())
		return
	}
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.repos.Online.GetByFilter(r.Context(), *filter, page)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}
	total, err := h.repos.Online.GetCountByFilter(r.Context(), *filter)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Data: rows,
		Page: &pageMeta{Number: page.Number, Size: page.Size, Total: total},
	})
}

// OnlineLatest returns the newest online row per symbol across venues.
func (h *Handlers) OnlineLatest(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if h.serveCached(w, r, "online_latest") {
		return
	}

	rows, err := h.repos.Online.GetLatestSymbolFundingRates(r.Context(), *page)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	h.writeCacheable(w, r, "online_latest", apiResponse{
		Data: rows,
		Page: &pageMeta{Number: page.Number, Size: page.Size},
	})
}

type statsResponse struct {
	HistoryRows    int64     `json:"history_rows"`
	HistorySymbols int64     `json:"history_symbols"`
	OnlineRows     int64     `json:"online_rows"`
	OnlineSymbols  int64     `json:"online_symbols"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Stats reports row and symbol counts across both stores.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := statsResponse{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		GeneratedAt:   time.Now().UTC(),
	}

	var err error
	if stats.HistoryRows, err = h.repos.History.GetCountByFilter(ctx, persistence.RateFilter{}); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}
	if stats.HistorySymbols, err = h.repos.History.GetUniqueSymbolsCount(ctx, nil); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}
	if stats.OnlineRows, err = h.repos.Online.GetCountByFilter(ctx, persistence.RateFilter{}); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}
	if stats.OnlineSymbols, err = h.repos.Online.GetUniqueSymbolsCount(ctx); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{Data: stats})
}

// Health reports storage health. Degraded storage yields 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	check := h.health.Health(r.Context())
	status := http.StatusOK
	if !check.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, check)
}

// buildFilter reads the symbol and venue query params. An unknown venue is a
// 404, everything else a 500.
func (h *Handlers) buildFilter(r *http.Request) (*persistence.RateFilter, int, error) {
	filter := &persistence.RateFilter{}

	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		filter.Symbols = []string{models.Normalize(symbol)}
	}

	if venue := r.URL.Query().Get("venue"); venue != "" {
		id, status, err := h.resolveVenue(r.Context(), venue)
		if err != nil {
			return nil, status, err
		}
		filter.VenueIDs = []uuid.UUID{id}
	}

	return filter, 0, nil
}

func (h *Handlers) resolveVenue(ctx context.Context, raw string) (uuid.UUID, int, error) {
	code, err := models.ParseVenueCode(raw)
	if err != nil {
		return uuid.Nil, http.StatusNotFound, errVenueNotFound
	}
	venue, err := h.repos.Exchanges.GetByCode(ctx, code)
	if err != nil {
		return uuid.Nil, http.StatusInternalServerError, err
	}
	if venue == nil {
		return uuid.Nil, http.StatusNotFound, errVenueNotFound
	}
	return venue.ID, 0, nil
}

// serveCached writes a previously cached payload for this URL if present.
func (h *Handlers) serveCached(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.cache == nil {
		return false
	}
	payload, ok, err := h.cache.Get(r.Context(), cacheKey(r))
	if err != nil {
		h.log.Warn().Err(err).Msg("cache read failed")
		return false
	}
	if !ok {
		h.reg.CacheMisses.WithLabelValues(endpoint).Inc()
		return false
	}
	h.reg.CacheHits.WithLabelValues(endpoint).Inc()
	w.WriteHeader(http.StatusOK)
	w.Write(payload) //nolint:errcheck
	return true
}

func (h *Handlers) writeCacheable(w http.ResponseWriter, r *http.Request, endpoint string, resp apiResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "encode failed")
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), cacheKey(r), payload, h.cacheTTL); err != nil {
			h.log.Warn().Err(err).Str("endpoint", endpoint).Msg("cache write failed")
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(payload) //nolint:errcheck
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("response encode failed")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= http.StatusInternalServerError {
		h.log.Error().Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg(msg)
	}
	h.writeJSON(w, status, apiError{Error: msg, RequestID: requestID(r.Context())})
}

func cacheKey(r *http.Request) string {
	return r.URL.Path + "?" + r.URL.Query().Encode()
}

func parsePage(r *http.Request) (*persistence.Page, error) {
	page := &persistence.Page{Number: 1, Size: defaultPageSize}

	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, errBadPage
		}
		page.Number = n
	}
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			return nil, errBadSize
		}
		page.Size = n
	}
	return page, nil
}

func parseMillis(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return nil, &paramError{name: name}
	}
	return &ms, nil
}

type paramError struct{ name string }

func (e *paramError) Error() string { return "invalid " + e.name + " parameter" }

var (
	errVenueNotFound = errors.New("venue not found")
	errBadPage       = &paramError{name: "page"}
	errBadSize       = &paramError{name: "size"}
)
