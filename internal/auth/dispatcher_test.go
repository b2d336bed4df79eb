package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (s *recordingSink) Record(event models.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

type recordingMetrics struct {
	mu  sync.Mutex
	ops map[string]int
}

func (m *recordingMetrics) ObserveOperation(op, outcome string, queued, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = make(map[string]int)
	}
	m.ops[op+"/"+outcome]++
}

func (m *recordingMetrics) SetQueueDepth(int)          {}
func (m *recordingMetrics) SetStoreSize(int, int, int) {}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[key]
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	engine := NewEngine(EngineConfig{PKCERequired: true, Now: clock.Now, Log: quietLogger()})
	opts = append([]Option{WithLogger(quietLogger()), WithSweepInterval(0)}, opts...)
	d := NewDispatcher(engine, opts...)
	t.Cleanup(d.Close)
	require.NoError(t, d.Register(context.Background(), testClient()))
	return d, clock
}

func authorizeCode(t *testing.T, d *Dispatcher) string {
	t.Helper()
	req := s256Request()
	req.Allow = true
	result, err := d.Decide(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, result.State)
	code := result.Redirect.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestScenarioFullFlow(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	page, err := d.Authorize(ctx, s256Request())
	require.NoError(t, err)
	require.NotNil(t, page.Page)
	assert.Equal(t, testChallenge, page.Page.CodeChallenge)

	code := authorizeCode(t, d)

	pair, err := d.Token(ctx, exchangeRequest(code, testVerifier))
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	grant, err := d.Resource(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testClientID, grant.ClientID)

	refreshed, err := d.Refresh(ctx, RefreshRequest{GrantType: GrantTypeRefreshToken, RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	_, err = d.Token(ctx, exchangeRequest(code, testVerifier))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "invalid_grant", pe.Response.Error)
}

func TestScenarioWrongVerifier(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)
	code := authorizeCode(t, d)

	_, err := d.Token(ctx, exchangeRequest(code, "wrong"))
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = d.Token(ctx, exchangeRequest(code, testVerifier))
	assert.ErrorIs(t, err, ErrCodeAlreadyUsed)
}

func TestScenarioDenied(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	result, err := d.Decide(ctx, s256Request())
	require.NoError(t, err)
	assert.Equal(t, StateDenied, result.State)
	assert.Equal(t, "access_denied", result.Redirect.Query().Get("error"))

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Codes)
}

func TestConcurrentExchangeSingleWinner(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t)

	for round := 0; round < 10; round++ {
		code := authorizeCode(t, d)

		const callers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			reused    int
		)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := d.Token(ctx, exchangeRequest(code, testVerifier))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrCodeAlreadyUsed):
					reused++
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, callers-1, reused)
	}
}

func TestDispatcherAudit(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	d, _ := newTestDispatcher(t, WithAuditSink(sink))

	code := authorizeCode(t, d)
	pair, err := d.Token(ctx, exchangeRequest(code, testVerifier))
	require.NoError(t, err)
	_, err = d.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	_, _ = d.Token(ctx, exchangeRequest(code, testVerifier))
	_, err = d.Decide(ctx, s256Request())
	require.NoError(t, err)

	assert.Equal(t, []string{
		models.AuditCodeIssued,
		models.AuditTokenIssued,
		models.AuditTokenRefresh,
		models.AuditCodeReused,
		models.AuditConsentDenied,
	}, sink.types())

	for _, event := range sink.events {
		assert.LessOrEqual(t, len(event.Subject), logPrefixLength, "secrets are never recorded whole")
	}
}

func TestDispatcherMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	d, _ := newTestDispatcher(t, WithMetrics(metrics))

	_, err := d.Resource(ctx, "nope")
	require.Error(t, err)
	_, err = d.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.count("resource/invalid_grant"))
	assert.Equal(t, 1, metrics.count("stats/ok"))
}

func TestDispatcherSweep(t *testing.T) {
	ctx := context.Background()
	d, clock := newTestDispatcher(t)
	authorizeCode(t, d)

	clock.Advance(DefaultCodeTTL)
	removed, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := submit(context.Background(), d, "broken", func(*Engine) (int, error) {
		panic("invariant violated")
	})
	assert.ErrorIs(t, err, ErrServerError)

	_, err = d.Stats(context.Background())
	assert.NoError(t, err, "the executor survives a failed operation")
}

func TestDispatcherClosed(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Close()
	d.Close()

	_, err := d.Stats(context.Background())
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherAdmissionHonoursContext(t *testing.T) {
	clock := newFakeClock()
	engine := NewEngine(EngineConfig{Now: clock.Now, Log: quietLogger()})
	d := NewDispatcher(engine, WithQueueSize(1), WithSweepInterval(0), WithLogger(quietLogger()))
	defer d.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = submit(context.Background(), d, "block", func(*Engine) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started
	// fills the single queue slot
	go func() { _, _ = d.Stats(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrServerError)
	close(release)
}
