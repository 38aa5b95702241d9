package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignal() domain.TradeSignal {
	now := time.Now().UTC()
	return domain.TradeSignal{
		ID:        uuid.New().String(),
		Strategy:  "liquidity_snipe",
		Symbol:    "PUMP/SOL",
		TokenMint: "TokenM1ntAddre55",
		Side:      domain.OrderSideBuy,
		Strength:  0.9,
		Price:     0.001,
		Size:      5000,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

type assessCall struct {
	sig domain.TradeSignal
	rec *domain.AIRecommendation
}

type stubRiskGate struct {
	assessFn   func(sig domain.TradeSignal, rec *domain.AIRecommendation) domain.RiskAssessment
	validateFn func(order domain.Order) (bool, error)

	mu        sync.Mutex
	assessed  []assessCall
	validated []domain.Order
}

func (s *stubRiskGate) AssessSignalWithAI(_ context.Context, sig domain.TradeSignal, _ domain.Portfolio, rec *domain.AIRecommendation) domain.RiskAssessment {
	s.mu.Lock()
	s.assessed = append(s.assessed, assessCall{sig: sig, rec: rec})
	s.mu.Unlock()
	if s.assessFn != nil {
		return s.assessFn(sig, rec)
	}
	return domain.RiskAssessment{Approved: true, SuggestedSize: sig.Size}
}

func (s *stubRiskGate) ValidateOrder(_ context.Context, order domain.Order, _ domain.Portfolio) (bool, error) {
	s.mu.Lock()
	s.validated = append(s.validated, order)
	s.mu.Unlock()
	if s.validateFn != nil {
		return s.validateFn(order)
	}
	return true, nil
}

type stubPortfolio struct{ snapshot domain.Portfolio }

func (s stubPortfolio) Snapshot() domain.Portfolio { return s.snapshot }

type openCall struct {
	sig  domain.TradeSignal
	fill domain.ExecutionResult
}

type stubOpener struct {
	openErr error

	mu     sync.Mutex
	opened []openCall
}

func (s *stubOpener) OpenPosition(_ context.Context, sig domain.TradeSignal, fill domain.ExecutionResult) (*domain.ActivePosition, error) {
	s.mu.Lock()
	s.opened = append(s.opened, openCall{sig: sig, fill: fill})
	s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	return domain.PositionFromFill(uuid.New().String(), sig, fill)
}

func (s *stubOpener) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opened)
}

type stubExecBackend struct {
	fn func(order domain.Order) (domain.ExecutionResult, error)

	mu    sync.Mutex
	calls []domain.Order
}

func (s *stubExecBackend) Name() string { return "stub" }

func (s *stubExecBackend) ExecuteOrder(_ context.Context, order domain.Order) (domain.ExecutionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, order)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(order)
	}
	return domain.ExecutionResult{
		OrderID:     order.ID,
		Success:     true,
		TxSignature: "tx-" + order.ID,
		FilledSize:  order.Size * order.Price,
		FilledPrice: order.Price,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (s *stubExecBackend) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubExecBackend) order(i int) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

type stubAdvisor struct {
	rec *domain.AIRecommendation
	err error
}

func (s *stubAdvisor) Analyze(context.Context, domain.TradeSignal, domain.Portfolio) (*domain.AIRecommendation, error) {
	return s.rec, s.err
}

type executorFixture struct {
	executor  *Executor
	backend   *stubExecBackend
	risk      *stubRiskGate
	opener    *stubOpener
	portfolio domain.Portfolio
}

func newExecutorFixture(signalCh <-chan domain.TradeSignal, advisor Advisor) *executorFixture {
	f := &executorFixture{
		backend:   &stubExecBackend{},
		risk:      &stubRiskGate{},
		opener:    &stubOpener{},
		portfolio: domain.Portfolio{TotalValue: 10, AvailableBalance: 10},
	}
	f.executor = NewExecutor(
		signalCh,
		f.backend,
		f.risk,
		stubPortfolio{snapshot: f.portfolio},
		f.opener,
		advisor,
		Options{MaxSlippageBps: 250, PriorityFeeLamports: 100_000, DedupTTL: time.Minute, ExecutionTimeout: time.Second},
		testLogger(),
	)
	return f
}

func TestProcessOpensPosition(t *testing.T) {
	f := newExecutorFixture(nil, nil)
	f.risk.assessFn = func(sig domain.TradeSignal, _ *domain.AIRecommendation) domain.RiskAssessment {
		return domain.RiskAssessment{Approved: true, SuggestedSize: 1234}
	}

	f.executor.process(context.Background(), testSignal())

	require.Equal(t, 1, f.backend.count())
	order := f.backend.order(0)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	assert.Equal(t, domain.OrderTypeMarket, order.Type)
	assert.Equal(t, 1234.0, order.Size, "order size comes from the risk assessment, not the raw signal")
	assert.Equal(t, 0.001, order.Price)
	assert.Equal(t, 250, order.MaxSlippageBps)
	assert.Equal(t, uint64(100_000), order.PriorityFeeLamports)
	assert.NotEmpty(t, order.ID)

	require.Equal(t, 1, f.opener.count())
	assert.Equal(t, order.ID, f.opener.opened[0].fill.OrderID)

	// Rule-based run passes no recommendation through.
	require.Len(t, f.risk.assessed, 1)
	assert.Nil(t, f.risk.assessed[0].rec)
}

func TestProcessDeduplicatesLogicalKey(t *testing.T) {
	f := newExecutorFixture(nil, nil)

	first := testSignal()
	second := testSignal()
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.DedupKey(), second.DedupKey())

	f.executor.process(context.Background(), first)
	f.executor.process(context.Background(), second)

	assert.Equal(t, 1, f.backend.count(), "same strategy+mint+side within the TTL is one entry")
}

func TestProcessSkips(t *testing.T) {
	t.Run("expired signal", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		sig := testSignal()
		sig.ExpiresAt = time.Now().UTC().Add(-time.Second)

		f.executor.process(context.Background(), sig)

		assert.Zero(t, f.backend.count())
		assert.Empty(t, f.risk.assessed, "expired signals never reach risk")
	})

	t.Run("sell signal", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		sig := testSignal()
		sig.Side = domain.OrderSideSell

		f.executor.process(context.Background(), sig)

		assert.Zero(t, f.backend.count())
	})

	t.Run("risk rejection", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		f.risk.assessFn = func(domain.TradeSignal, *domain.AIRecommendation) domain.RiskAssessment {
			return domain.RiskAssessment{Approved: false, RiskScore: 1.0}
		}

		f.executor.process(context.Background(), testSignal())

		assert.Zero(t, f.backend.count())
		assert.Empty(t, f.risk.validated, "rejected signals are never sized into orders")
	})

	t.Run("order validation error", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		f.risk.validateFn = func(domain.Order) (bool, error) {
			return false, domain.ErrRiskLimitExceeded
		}

		f.executor.process(context.Background(), testSignal())

		assert.Zero(t, f.backend.count())
	})

	t.Run("circuit breaker decline", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		f.risk.validateFn = func(domain.Order) (bool, error) {
			return false, nil
		}

		f.executor.process(context.Background(), testSignal())

		assert.Zero(t, f.backend.count())
	})
}

func TestProcessRetriesOnce(t *testing.T) {
	f := newExecutorFixture(nil, nil)
	var attempts int
	f.backend.fn = func(order domain.Order) (domain.ExecutionResult, error) {
		attempts++
		if attempts == 1 {
			return domain.ExecutionResult{}, errors.New("rpc node flaked")
		}
		return domain.ExecutionResult{
			OrderID:     order.ID,
			Success:     true,
			TxSignature: "tx-retry",
			FilledSize:  order.Size * order.Price,
			FilledPrice: order.Price,
		}, nil
	}

	f.executor.process(context.Background(), testSignal())

	assert.Equal(t, 2, f.backend.count())
	require.Equal(t, 1, f.opener.count())
	assert.Equal(t, "tx-retry", f.opener.opened[0].fill.TxSignature)
}

func TestProcessRetryExhausted(t *testing.T) {
	f := newExecutorFixture(nil, nil)
	f.backend.fn = func(domain.Order) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{}, errors.New("rpc node down")
	}

	f.executor.process(context.Background(), testSignal())

	assert.Equal(t, 2, f.backend.count(), "one submission plus one retry")
	assert.Zero(t, f.opener.count())
}

func TestProcessBackendRejection(t *testing.T) {
	f := newExecutorFixture(nil, nil)
	f.backend.fn = func(order domain.Order) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{OrderID: order.ID, Success: false, Err: "route not found"}, nil
	}

	f.executor.process(context.Background(), testSignal())

	assert.Equal(t, 1, f.backend.count(), "a clean rejection is not retried")
	assert.Zero(t, f.opener.count())
}

func TestProcessWithAdvisor(t *testing.T) {
	t.Run("recommendation reaches the risk gate", func(t *testing.T) {
		rec := &domain.AIRecommendation{Action: domain.AIActionBuy, Confidence: 0.9, RiskScore: 0.2}
		f := newExecutorFixture(nil, &stubAdvisor{rec: rec})

		f.executor.process(context.Background(), testSignal())

		require.Len(t, f.risk.assessed, 1)
		assert.Same(t, rec, f.risk.assessed[0].rec)
		assert.Equal(t, 1, f.backend.count())
	})

	t.Run("advisor failure degrades to rule-based", func(t *testing.T) {
		f := newExecutorFixture(nil, &stubAdvisor{err: errors.New("model endpoint 503")})

		f.executor.process(context.Background(), testSignal())

		require.Len(t, f.risk.assessed, 1)
		assert.Nil(t, f.risk.assessed[0].rec)
		assert.Equal(t, 1, f.backend.count(), "the pipeline must not block on the advisor")
	})
}

func TestProcessOpenFailureDoesNotPanic(t *testing.T) {
	f := newExecutorFixture(nil, nil)
	f.opener.openErr = domain.ErrRiskLimitExceeded

	f.executor.process(context.Background(), testSignal())

	assert.Equal(t, 1, f.backend.count())
	assert.Equal(t, 1, f.opener.count())
}

func TestRunStopsOnChannelClose(t *testing.T) {
	signalCh := make(chan domain.TradeSignal, 2)
	f := newExecutorFixture(signalCh, nil)

	signalCh <- testSignal()
	close(signalCh)

	err := f.executor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.count())
}

func TestRunDrainsOnCancel(t *testing.T) {
	signalCh := make(chan domain.TradeSignal, 2)
	f := newExecutorFixture(signalCh, nil)

	a := testSignal()
	b := testSignal()
	b.Strategy = "volume_spike"
	signalCh <- a
	signalCh <- b

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.executor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.backend.count(), "buffered signals are drained, not dropped")
}

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
	return append([]string(nil), s.events...)
}

func TestProcessAlertsOnRejections(t *testing.T) {
	t.Run("risk rejection", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		alerter := &stubAlerter{}
		f.executor.SetAlerter(alerter)
		f.risk.assessFn = func(domain.TradeSignal, *domain.AIRecommendation) domain.RiskAssessment {
			return domain.RiskAssessment{Approved: false, RiskScore: 0.92}
		}

		f.executor.process(context.Background(), testSignal())

		assert.Equal(t, []string{"risk_rejected"}, alerter.all())
	})

	t.Run("backend rejection", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		alerter := &stubAlerter{}
		f.executor.SetAlerter(alerter)
		f.backend.fn = func(order domain.Order) (domain.ExecutionResult, error) {
			return domain.ExecutionResult{OrderID: order.ID, Success: false, Err: "slippage exceeded"}, nil
		}

		f.executor.process(context.Background(), testSignal())

		assert.Equal(t, []string{"execution_failed"}, alerter.all())
	})

	t.Run("submission failure after retry", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		alerter := &stubAlerter{}
		f.executor.SetAlerter(alerter)
		f.backend.fn = func(domain.Order) (domain.ExecutionResult, error) {
			return domain.ExecutionResult{}, errors.New("rpc unreachable")
		}

		f.executor.process(context.Background(), testSignal())

		assert.Equal(t, []string{"execution_failed"}, alerter.all())
		assert.Equal(t, 2, f.backend.count())
	})

	t.Run("successful fill stays quiet", func(t *testing.T) {
		f := newExecutorFixture(nil, nil)
		alerter := &stubAlerter{}
		f.executor.SetAlerter(alerter)

		f.executor.process(context.Background(), testSignal())

		assert.Empty(t, alerter.all(), "the position manager owns the opened notification")
	})
}
