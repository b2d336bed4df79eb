package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

const (
	DefaultQueueSize     = 256
	DefaultSweepInterval = time.Minute
)

// ErrDispatcherClosed is returned for operations submitted after Close.
var ErrDispatcherClosed = fmt.Errorf("%w: dispatcher closed", ErrServerError)

// AuditSink receives protocol events. Record is called from the executor
// and must not block.
type AuditSink interface {
	Record(event models.AuditEvent)
}

// Metrics receives dispatcher measurements. Calls must not block.
type Metrics interface {
	ObserveOperation(op, outcome string, queued, elapsed time.Duration)
	SetQueueDepth(depth int)
	SetStoreSize(codes, access, refresh int)
}

// StoreStats is a snapshot of store sizes.
type StoreStats struct {
	Codes         int
	AccessTokens  int
	RefreshTokens int
}

type opResult struct {
	value any
	err   error
}

type operation struct {
	name     string
	run      func(*Engine) (any, error)
	result   chan opResult
	admitted time.Time
}

// Dispatcher owns an Engine and runs every operation on it from a single
// goroutine, fed through a bounded queue. Operations therefore never
// interleave: two concurrent exchanges of one code see one success.
type Dispatcher struct {
	engine        *Engine
	solicitor     Solicitor
	ops           chan *operation
	quit          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	queueSize     int
	sweepInterval time.Duration
	audit         AuditSink
	metrics       Metrics
	log           logrus.FieldLogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithQueueSize(size int) Option {
	return func(d *Dispatcher) { d.queueSize = size }
}

// WithSweepInterval sets how often expired codes and tokens are purged.
// Zero or negative disables the periodic sweep.
func WithSweepInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.sweepInterval = interval }
}

func WithSolicitor(solicitor Solicitor) Option {
	return func(d *Dispatcher) { d.solicitor = solicitor }
}

func WithAuditSink(sink AuditSink) Option {
	return func(d *Dispatcher) { d.audit = sink }
}

func WithMetrics(metrics Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher takes ownership of engine and starts the executor.
func NewDispatcher(engine *Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:        engine,
		solicitor:     Solicitor{Mode: DecideFromRequest},
		queueSize:     DefaultQueueSize,
		sweepInterval: DefaultSweepInterval,
		log:           logrus.StandardLogger(),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queueSize <= 0 {
		d.queueSize = DefaultQueueSize
	}
	d.ops = make(chan *operation, d.queueSize)

	go d.loop()
	return d
}

// Close stops the executor after it has run every admitted operation.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	var tick <-chan time.Time
	if d.sweepInterval > 0 {
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case op := <-d.ops:
			d.execute(op)
		case <-tick:
			d.sweep()
		case <-d.quit:
			for {
				select {
				case op := <-d.ops:
					d.execute(op)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(op *operation) {
	start := time.Now()
	var res opResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				// store invariants are broken: this is a bug, not bad input
				d.log.WithFields(logrus.Fields{
					"operation": op.name,
					"panic":     r,
				}).Error("Operation violated a store invariant")
				res = opResult{err: fmt.Errorf("%w: %v", ErrServerError, r)}
			}
		}()
		value, err := op.run(d.engine)
		res = opResult{value: value, err: err}
	}()
	op.result <- res

	if d.metrics != nil {
		outcome := "ok"
		if res.err != nil {
			outcome = NewProtocolError(res.err).Response.Error
		}
		d.metrics.ObserveOperation(op.name, outcome, start.Sub(op.admitted), time.Since(start))
		d.metrics.SetQueueDepth(len(d.ops))
	}
}

func (d *Dispatcher) sweep() {
	codes := d.engine.Codes.Sweep()
	tokens := d.engine.Tokens.Sweep()
	if codes+tokens > 0 {
		d.log.WithFields(logrus.Fields{
			"codes":  codes,
			"tokens": tokens,
		}).Debug("Swept expired entries")
	}
	d.reportSizes()
}

func (d *Dispatcher) reportSizes() {
	if d.metrics == nil {
		return
	}
	access, refresh := d.engine.Tokens.Len()
	d.metrics.SetStoreSize(d.engine.Codes.Len(), access, refresh)
}

func (d *Dispatcher) record(event models.AuditEvent) {
	if d.audit == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	d.audit.Record(event)
}

// submit enqueues fn and waits for its result. ctx only bounds admission:
// once queued, the operation runs to completion.
func submit[T any](ctx context.Context, d *Dispatcher, name string, fn func(*Engine) (T, error)) (T, error) {
	var zero T
	op := &operation{
		name: name,
		run: func(e *Engine) (any, error) {
			return fn(e)
		},
		result: make(chan opResult, 1),
	}

	select {
	case <-d.quit:
		return zero, NewProtocolError(ErrDispatcherClosed)
	default:
	}

	op.admitted = time.Now()
	select {
	case d.ops <- op:
	case <-ctx.Done():
		return zero, NewProtocolError(fmt.Errorf("%w: not admitted: %w", ErrServerError, ctx.Err()))
	case <-d.quit:
		return zero, NewProtocolError(ErrDispatcherClosed)
	}

	var res opResult
	select {
	case res = <-op.result:
	case <-d.done:
		select {
		case res = <-op.result:
		default:
			return zero, NewProtocolError(ErrDispatcherClosed)
		}
	}
	if res.err != nil {
		return zero, NewProtocolError(res.err)
	}
	value, _ := res.value.(T)
	return value, nil
}

// Register adds a client to the registry.
func (d *Dispatcher) Register(ctx context.Context, client models.OAuthClient) error {
	_, err := submit(ctx, d, "register", func(e *Engine) (struct{}, error) {
		return struct{}{}, e.Registry.Register(client)
	})
	return err
}

// Authorize handles the GET step: validate and render consent.
func (d *Dispatcher) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	return submit(ctx, d, "authorize", func(e *Engine) (*AuthorizeResult, error) {
		return e.Consent.Start(req)
	})
}

// Decide handles the POST step: apply the owner decision.
func (d *Dispatcher) Decide(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	return submit(ctx, d, "consent", func(e *Engine) (*AuthorizeResult, error) {
		result, err := e.Consent.Decide(req, d.solicitor)
		if err != nil || result == nil {
			return result, err
		}
		switch result.State {
		case StateAuthorized:
			d.record(models.AuditEvent{
				Type:     models.AuditCodeIssued,
				ClientID: result.Grant.ClientID,
				OwnerID:  result.Grant.OwnerID,
				Subject:  truncate(result.Code),
				Detail:   result.Grant.Scope.String(),
			})
		case StateDenied:
			d.record(models.AuditEvent{Type: models.AuditConsentDenied, ClientID: req.ClientID})
		}
		return result, nil
	})
}

// Token exchanges an authorization code.
func (d *Dispatcher) Token(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	return submit(ctx, d, "token", func(e *Engine) (*TokenPair, error) {
		pair, err := e.Tokens.Exchange(req)
		switch {
		case errors.Is(err, ErrCodeAlreadyUsed):
			d.record(models.AuditEvent{Type: models.AuditCodeReused, ClientID: req.ClientID, Subject: truncate(req.Code)})
		case err != nil:
			d.record(models.AuditEvent{Type: models.AuditExchangeFail, ClientID: req.ClientID,
				Subject: truncate(req.Code), Detail: err.Error()})
		default:
			d.record(models.AuditEvent{Type: models.AuditTokenIssued, ClientID: req.ClientID,
				Subject: truncate(pair.AccessToken), Detail: pair.Scope.String()})
		}
		return pair, err
	})
}

// Refresh mints a new access token from a refresh token.
func (d *Dispatcher) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	return submit(ctx, d, "refresh", func(e *Engine) (*TokenPair, error) {
		pair, err := e.Tokens.Refresh(req)
		if err == nil {
			d.record(models.AuditEvent{Type: models.AuditTokenRefresh, ClientID: req.ClientID,
				Subject: truncate(pair.AccessToken)})
		}
		return pair, err
	})
}

// Resource authorizes access to a protected resource.
func (d *Dispatcher) Resource(ctx context.Context, accessToken string) (models.Grant, error) {
	return submit(ctx, d, "resource", func(e *Engine) (models.Grant, error) {
		return e.Tokens.Check(accessToken)
	})
}

// Sweep purges expired codes and tokens immediately.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	return submit(ctx, d, "sweep", func(e *Engine) (int, error) {
		removed := e.Codes.Sweep() + e.Tokens.Sweep()
		d.reportSizes()
		return removed, nil
	})
}

// Stats reports store sizes.
func (d *Dispatcher) Stats(ctx context.Context) (StoreStats, error) {
	return submit(ctx, d, "stats", func(e *Engine) (StoreStats, error) {
		access, refresh := e.Tokens.Len()
		return StoreStats{Codes: e.Codes.Len(), AccessTokens: access, RefreshTokens: refresh}, nil
	})
}
