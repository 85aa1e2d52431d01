package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

// fakeAdapter is a scripted VenueAdapter for pipeline tests.
type fakeAdapter struct {
	venue  models.VenueCode
	limits exchanges.Limits
	pacing func(int) time.Duration

	pairs   []models.SymbolPair
	history map[string][]models.FundingObservation // ascending per symbol
	latest  map[string]*models.FundingObservation

	// latestErrs are consumed one per Latest call before latest is served.
	latestErrs map[string][]error

	mu           sync.Mutex
	historyCalls []historyCall
	latestCalls  map[string]int
}

type historyCall struct {
	symbol string
	start  *int64
}

func newFakeAdapter(venue models.VenueCode) *fakeAdapter {
	return &fakeAdapter{
		venue: venue,
		limits: exchanges.Limits{
			Parallelism:       2,
			OnlineParallelism: 2,
			HistoryBatchSize:  10,
			PageLimit:         100,
		},
		history:     make(map[string][]models.FundingObservation),
		latest:      make(map[string]*models.FundingObservation),
		latestErrs:  make(map[string][]error),
		latestCalls: make(map[string]int),
	}
}

func (f *fakeAdapter) Venue() models.VenueCode  { return f.venue }
func (f *fakeAdapter) Limits() exchanges.Limits { return f.limits }

func (f *fakeAdapter) PacingDelay(batchRows int) time.Duration {
	if f.pacing != nil {
		return f.pacing(batchRows)
	}
	return 0
}

func (f *fakeAdapter) ListActivePerpetuals(_ context.Context, _ exchanges.Scope) ([]models.SymbolPair, error) {
	return f.pairs, nil
}

func (f *fakeAdapter) ListHistory(_ context.Context, symbol string, startTime *int64) ([]models.FundingObservation, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, historyCall{symbol: symbol, start: startTime})
	f.mu.Unlock()

	var out []models.FundingObservation
	for _, obs := range f.history[symbol] {
		if startTime != nil && obs.FundingTime < *startTime {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (f *fakeAdapter) Latest(_ context.Context, symbol string) (*models.FundingObservation, error) {
	f.mu.Lock()
	f.latestCalls[symbol]++
	if errs := f.latestErrs[symbol]; len(errs) > 0 {
		err := errs[0]
		f.latestErrs[symbol] = errs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	if obs, ok := f.latest[symbol]; ok {
		return obs, nil
	}
	if tail := f.history[symbol]; len(tail) > 0 {
		obs := tail[len(tail)-1]
		return &obs, nil
	}
	return nil, models.ErrEmptyResult
}

func (f *fakeAdapter) historyCallsFor(symbol string) []historyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []historyCall
	for _, call := range f.historyCalls {
		if call.symbol == symbol {
			out = append(out, call)
		}
	}
	return out
}

// fakeExchanges serves seeded venue rows.
type fakeExchanges struct {
	venues map[models.VenueCode]models.Venue
}

func newFakeExchanges(codes ...models.VenueCode) *fakeExchanges {
	venues := make(map[models.VenueCode]models.Venue, len(codes))
	for _, code := range codes {
		venues[code] = models.Venue{ID: uuid.New(), Code: code}
	}
	return &fakeExchanges{venues: venues}
}

func (f *fakeExchanges) GetByCode(_ context.Context, code models.VenueCode) (*models.Venue, error) {
	if venue, ok := f.venues[code]; ok {
		return &venue, nil
	}
	return nil, nil
}

func (f *fakeExchanges) Add(_ context.Context, venues ...models.Venue) error {
	for _, venue := range venues {
		f.venues[venue.Code] = venue
	}
	return nil
}

// fakeHistory stores inserted rows in memory and derives latest-per-symbol
// from them.
type fakeHistory struct {
	mu      sync.Mutex
	rows    []models.HistoryRecord
	inserts int
	bulkErr error
}

func (f *fakeHistory) GetLatestSymbolRates(_ context.Context, filter *persistence.RateFilter, _ bool, _ *persistence.Page) ([]models.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest := make(map[string]models.HistoryRecord)
	for _, row := range f.rows {
		if filter != nil && len(filter.VenueIDs) > 0 && row.VenueID != filter.VenueIDs[0] {
			continue
		}
		if best, ok := latest[row.Symbol]; !ok || row.TsRate > best.TsRate {
			latest[row.Symbol] = row
		}
	}

	out := make([]models.HistoryRecord, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (f *fakeHistory) GetByFilter(_ context.Context, filter persistence.RateFilter, _ *persistence.Page) ([]models.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.HistoryRecord
	for _, row := range f.rows {
		if filter.Name != "" && !strings.EqualFold(filter.Name, row.Name) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeHistory) GetUniqueSymbolsCount(_ context.Context, _ *persistence.RateFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	symbols := make(map[string]bool)
	for _, row := range f.rows {
		symbols[row.Symbol] = true
	}
	return int64(len(symbols)), nil
}

func (f *fakeHistory) GetCountByFilter(_ context.Context, _ persistence.RateFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

func (f *fakeHistory) BulkInsert(_ context.Context, rows []models.HistoryRecord) error {
	if len(rows) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.inserts++
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeHistory) all() []models.HistoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.HistoryRecord, len(f.rows))
	copy(out, f.rows)
	return out
}

// fakeOnline stores online rows keyed by raw name and records batch saves.
type fakeOnline struct {
	mu      sync.Mutex
	rows    map[string]models.OnlineRecord
	saves   int
	saveErr error

	lastUpdates []models.OnlineRecord
	lastCreates []models.OnlineRecord
}

func newFakeOnline() *fakeOnline {
	return &fakeOnline{rows: make(map[string]models.OnlineRecord)}
}

func (f *fakeOnline) GetByFilter(_ context.Context, _ persistence.RateFilter, _ *persistence.Page) ([]models.OnlineRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.OnlineRecord, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeOnline) GetLatestSymbolFundingRates(_ context.Context, _ persistence.Page) ([]models.OnlineRecord, error) {
	return f.GetByFilter(context.Background(), persistence.RateFilter{}, nil)
}

func (f *fakeOnline) GetUniqueSymbolsCount(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

func (f *fakeOnline) GetCountByFilter(_ context.Context, _ persistence.RateFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

func (f *fakeOnline) NewBatch() persistence.OnlineBatch {
	return &fakeOnlineBatch{repo: f}
}

type fakeOnlineBatch struct {
	repo    *fakeOnline
	creates []models.OnlineRecord
	updates []models.OnlineRecord
}

func (b *fakeOnlineBatch) AddRange(rows ...models.OnlineRecord) {
	b.creates = append(b.creates, rows...)
}

func (b *fakeOnlineBatch) UpdateRange(rows ...models.OnlineRecord) {
	b.updates = append(b.updates, rows...)
}

func (b *fakeOnlineBatch) Save(_ context.Context) error {
	r := b.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}

	for _, row := range b.updates {
		for name, prior := range r.rows {
			if prior.ID == row.ID {
				delete(r.rows, name)
				break
			}
		}
		r.rows[row.Name] = row
	}
	for _, row := range b.creates {
		r.rows[row.Name] = row
	}

	r.saves++
	r.lastUpdates = b.updates
	r.lastCreates = b.creates
	return nil
}

func newTestRepos(exchangesRepo *fakeExchanges, history *fakeHistory, online *fakeOnline) *persistence.Repository {
	return &persistence.Repository{
		Exchanges: exchangesRepo,
		History:   history,
		Online:    online,
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func noSleep(_ context.Context, _ time.Duration) error { return nil }

// recordedSleep collects requested delays without waiting.
type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) fn(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}
