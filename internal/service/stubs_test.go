package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubPositionStore keeps saved positions in memory; the error hooks force
// persistence failures.
type stubPositionStore struct {
	mu      sync.Mutex
	saved   map[string]domain.ActivePosition
	saveErr error
	delErr  error
}

func newStubPositionStore() *stubPositionStore {
	return &stubPositionStore{saved: make(map[string]domain.ActivePosition)}
}

func (s *stubPositionStore) Save(_ context.Context, pos *domain.ActivePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[pos.ID] = *pos
	return nil
}

func (s *stubPositionStore) Get(_ context.Context, id string) (*domain.ActivePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.saved[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := pos
	return &c, nil
}

func (s *stubPositionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.saved, id)
	return nil
}

func (s *stubPositionStore) ListOpen(_ context.Context) ([]*domain.ActivePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ActivePosition, 0, len(s.saved))
	for _, pos := range s.saved {
		c := pos
		out = append(out, &c)
	}
	return out, nil
}

// stubClosedStore records appended close records.
type stubClosedStore struct {
	mu        sync.Mutex
	records   []domain.ClosedPositionRecord
	appendErr error
}

func (s *stubClosedStore) Append(_ context.Context, rec domain.ClosedPositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *stubClosedStore) List(context.Context, domain.ListOpts) ([]domain.ClosedPositionRecord, error) {
	return nil, nil
}

func (s *stubClosedStore) ListByStrategy(context.Context, string, domain.ListOpts) ([]domain.ClosedPositionRecord, error) {
	return nil, nil
}

func (s *stubClosedStore) ListBefore(context.Context, time.Time, int) ([]domain.ClosedPositionRecord, error) {
	return nil, nil
}

func (s *stubClosedStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubClosedStore) SumRealizedPnL(context.Context, time.Time) (float64, error) {
	return 0, nil
}

func (s *stubClosedStore) all() []domain.ClosedPositionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ClosedPositionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// stubPriceCache serves prices from a fixed map.
type stubPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (s *stubPriceCache) SetPrice(_ context.Context, mint string, price float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = make(map[string]float64)
	}
	s.prices[mint] = price
	return nil
}

func (s *stubPriceCache) GetPrice(_ context.Context, mint string) (float64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[mint]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, time.Now().UTC(), nil
}

func (s *stubPriceCache) GetPrices(_ context.Context, mints []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]float64, len(mints))
	for _, m := range mints {
		if p, ok := s.prices[m]; ok {
			out[m] = p
		}
	}
	return out, nil
}

// stubBackend scripts execution results; the default fills at the order
// price.
type stubBackend struct {
	mu    sync.Mutex
	fn    func(order domain.Order) (domain.ExecutionResult, error)
	calls []domain.Order
}

func (s *stubBackend) ExecuteOrder(_ context.Context, order domain.Order) (domain.ExecutionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, order)
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(order)
	}
	return domain.ExecutionResult{
		OrderID:     order.ID,
		Success:     true,
		TxSignature: "sig-" + order.ID,
		FilledSize:  order.Size,
		FilledPrice: order.Price,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubBackend) allCalls() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, len(s.calls))
	copy(out, s.calls)
	return out
}

// stubAlerter records notification events.
type stubAlerter struct {
	mu     sync.Mutex
	events []string
}

func (s *stubAlerter) Notify(_ context.Context, event, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubAlerter) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// stubEventStore records risk audit events.
type stubEventStore struct {
	mu     sync.Mutex
	events []string
}

func (s *stubEventStore) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubEventStore) List(context.Context, domain.ListOpts) ([]domain.RiskEvent, error) {
	return nil, nil
}

func (s *stubEventStore) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// stubPortfolioStore holds at most one snapshot.
type stubPortfolioStore struct {
	mu       sync.Mutex
	snapshot *domain.Portfolio
	getErr   error
}

func (s *stubPortfolioStore) SaveSnapshot(_ context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := p
	s.snapshot = &c
	return nil
}

func (s *stubPortfolioStore) GetSnapshot(_ context.Context) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Portfolio{}, s.getErr
	}
	if s.snapshot == nil {
		return domain.Portfolio{}, domain.ErrNotFound
	}
	return *s.snapshot, nil
}

func (s *stubPortfolioStore) saved() *domain.Portfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	c := *s.snapshot
	return &c
}

// stubPositionSource serves a fixed open set to the tracker.
type stubPositionSource struct {
	positions []domain.ActivePosition
}

func (s *stubPositionSource) ListOpenPositions() []domain.ActivePosition {
	return s.positions
}
