// Package machine implements the purchase flow as a finite state machine.
//
// Transition is a pure function over (state, context, event). Machine runs
// it on a single goroutine, performs the effects each transition asks for
// and feeds their outcomes back in as events.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcourtman/supertab-client/internal/access"
	apierrors "github.com/rcourtman/supertab-client/internal/errors"
	"github.com/rcourtman/supertab-client/internal/logging"
	"github.com/rcourtman/supertab-client/internal/metrics"
	"github.com/rcourtman/supertab-client/internal/payment"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

var (
	// ErrStopped is returned by Send once Run has returned.
	ErrStopped = errors.New("machine stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("machine already running")
)

const (
	inboxBufferSize      = 64
	subscriberBufferSize = 8
	closeTimeout         = 5 * time.Second
)

// Backend is the Tab service as seen by the machine.
type Backend interface {
	FetchActiveTab(ctx context.Context) (*tab.Tab, error)
	FetchClientConfig(ctx context.Context, siteID string) (tab.ClientConfig, error)
	Purchase(ctx context.Context, offeringID string, metadata tab.Metadata) (tab.PurchaseResult, error)
	StartPayment(ctx context.Context, tabID string) (tab.PaymentDetails, error)
	CheckAccess(ctx context.Context, key string) (tab.AccessGrant, error)
}

// Deps holds the collaborators the machine performs effects with.
type Deps struct {
	Backend  Backend
	Payments payment.Provider
	// OnPurchaseAdded is called once per item added to the tab, on its own
	// goroutine.
	OnPurchaseAdded func(AddedItem)
	Logger          zerolog.Logger
}

// Options configure the initial state.
type Options struct {
	SiteID string
	// Catalog, when set, starts the machine in idle with this catalog
	// instead of fetching it.
	Catalog *tab.ClientConfig
}

type envelope struct {
	event   Event
	episode uint64
	scoped  bool
}

// Machine serializes events and owns the state and context.
type Machine struct {
	deps   Deps
	logger zerolog.Logger
	inbox  chan envelope

	// Guarded by mu; written only by the Run goroutine.
	mu      sync.RWMutex
	state   State
	ctx     Context
	episode uint64
	subs    map[int]chan Snapshot
	nextSub int

	// Owned by the Run goroutine.
	runCtx        context.Context
	episodeCtx    context.Context
	cancelEpisode context.CancelFunc
	effects       sync.WaitGroup

	startOnce     sync.Once
	cancel        context.CancelFunc
	done          chan struct{}
	staticCatalog bool
}

// New creates a machine in noConfig, or in idle when a static catalog is
// supplied.
func New(deps Deps, opts Options) *Machine {
	m := &Machine{
		deps:   deps,
		logger: deps.Logger,
		inbox:  make(chan envelope, inboxBufferSize),
		state:  StateNoConfig,
		ctx:    Context{SiteID: opts.SiteID},
		subs:   make(map[int]chan Snapshot),
		done:   make(chan struct{}),
	}
	if opts.Catalog != nil {
		m.ctx = withCatalog(m.ctx, opts.Catalog.Offerings, opts.Catalog.ContentKeys)
		m.state = StateIdle
		m.staticCatalog = true
	}
	return m
}

// Run processes events until ctx is cancelled or Close is called.
func (m *Machine) Run(ctx context.Context) error {
	first := false
	m.startOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}

	m.mu.Lock()
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	m.episodeCtx, m.cancelEpisode = context.WithCancel(m.runCtx)

	defer close(m.done)
	defer m.effects.Wait()
	defer func() { m.cancelEpisode() }()

	m.logger.Info().
		Str("state", string(m.Status().State)).
		Bool("static_catalog", m.staticCatalog).
		Msg("Purchase machine started")

	if m.staticCatalog {
		m.apply(envelope{event: CheckAccess{}})
	}

	for {
		select {
		case <-m.runCtx.Done():
			m.logger.Info().Msg("Purchase machine stopped")
			return ctx.Err()
		case env := <-m.inbox:
			m.apply(env)
		}
	}
}

// Close stops Run and waits briefly for it to return.
func (m *Machine) Close() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-m.done:
	case <-time.After(closeTimeout):
	}
}

// Send enqueues an event. It blocks while the inbox is full and fails once
// the machine has stopped.
func (m *Machine) Send(ev Event) error {
	ev = normalizeEvent(ev)
	if ev == nil {
		return fmt.Errorf("send: nil event")
	}
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.inbox <- envelope{event: ev}:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// Status returns a deep copy of the current state and context.
func (m *Machine) Status() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, Context: m.ctx.Clone(), Episode: m.episode}
}

// Subscribe returns a channel receiving a snapshot after every applied
// transition. Slow subscribers lose intermediate snapshots, never the
// latest. The returned func unsubscribes.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBufferSize)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Machine) apply(env envelope) {
	kind := env.event.Kind()

	m.mu.RLock()
	from, c, episode := m.state, m.ctx, m.episode
	m.mu.RUnlock()

	if env.scoped && env.episode != episode {
		metrics.RecordStaleCompletion()
		m.logger.Debug().
			Str("event", string(kind)).
			Uint64("event_episode", env.episode).
			Uint64("episode", episode).
			Msg("Dropping completion from a finished episode")
		return
	}

	res := Transition(from, c, env.event)
	switch {
	case res.Ignored:
		metrics.RecordIgnoredEvent(string(from), string(kind))
		m.logger.Debug().
			Str("state", string(from)).
			Str("event", string(kind)).
			Msg("Ignoring event: " + res.Note)
		return
	case res.Rejection != nil:
		metrics.RecordRejection(res.Rejection.Reason)
		m.logger.Warn().
			Str("state", string(from)).
			Str("event", string(kind)).
			Str("reason", res.Rejection.Reason).
			Msg(res.Rejection.Message)
		return
	}

	m.mu.Lock()
	m.state = res.State
	m.ctx = res.Context
	if res.State == StateIdle && from != StateIdle {
		m.episode++
	}
	snap := m.snapshotLocked()
	subs := make([]chan Snapshot, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	if snap.Episode != episode {
		m.cancelEpisode()
		m.episodeCtx, m.cancelEpisode = context.WithCancel(m.runCtx)
	}

	metrics.RecordTransition(string(from), string(res.State), string(kind))
	evt := m.logger.Debug().
		Str("from", string(from)).
		Str("to", string(res.State)).
		Str("event", string(kind)).
		Int("effects", len(res.Effects))
	if res.Note != "" {
		evt = evt.Str("note", res.Note)
	}
	evt.Msg("Applied transition")
	if res.State == StateError && from != StateError {
		m.logger.Warn().Str("from", string(from)).Str("error", res.Context.ErrorMessage).Msg("Purchase flow failed")
	}

	for _, ch := range subs {
		publish(ch, snap)
	}
	for _, eff := range res.Effects {
		m.execute(eff, snap.Episode)
	}
}

// publish delivers snap, discarding the oldest queued snapshot when the
// subscriber has fallen behind.
func publish(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *Machine) execute(eff Effect, episode uint64) {
	ctx := m.runCtx
	if eff.episodeScoped() {
		ctx = m.episodeCtx
	}
	m.effects.Add(1)
	go func() {
		defer m.effects.Done()
		ev := m.perform(ctx, eff)
		if ev == nil {
			return
		}
		env := envelope{event: ev, episode: episode, scoped: eff.episodeScoped()}
		select {
		case m.inbox <- env:
		case <-m.runCtx.Done():
		}
	}()
}

// perform runs one effect and returns the event reporting its outcome.
// Every backend request made for the effect carries the same request ID.
func (m *Machine) perform(ctx context.Context, eff Effect) Event {
	started := time.Now()
	ctx, requestID := logging.WithRequestID(ctx, "")
	var err error
	defer func() {
		outcome := metrics.OutcomeSuccess
		switch {
		case errors.Is(err, context.Canceled):
			outcome = metrics.OutcomeCanceled
		case err != nil:
			outcome = metrics.OutcomeError
		}
		metrics.RecordEffect(eff.name(), outcome, started)
		if err != nil && ctx.Err() == nil {
			m.logger.Warn().
				Err(err).
				Str("op", eff.name()).
				Str("request_id", requestID).
				Int("status", apierrors.StatusCode(err)).
				Bool("retryable", apierrors.IsRetryableError(err)).
				Bool("auth", apierrors.IsAuthError(err)).
				Msg("Collaborator call failed")
		}
	}()

	if m.deps.Backend == nil {
		if _, ok := eff.(NotifyPurchaseAddedEffect); !ok {
			err = errors.New("no backend configured")
			return failureFor(eff, err)
		}
	}

	switch e := eff.(type) {
	case FetchConfigEffect:
		var cfg tab.ClientConfig
		if cfg, err = m.deps.Backend.FetchClientConfig(ctx, e.SiteID); err != nil {
			return FetchConfigError{Message: err.Error()}
		}
		return FetchConfigDone{Config: cfg}

	case FetchTabEffect:
		var t *tab.Tab
		if t, err = m.deps.Backend.FetchActiveTab(ctx); err != nil {
			return FetchTabError{Message: err.Error()}
		}
		return FetchTabDone{Tab: t}

	case PurchaseEffect:
		var res tab.PurchaseResult
		if res, err = m.deps.Backend.Purchase(ctx, e.Offering.ID, e.Offering.Metadata); err != nil {
			return AddToTabError{Message: err.Error()}
		}
		return AddToTabDone{Offering: e.Offering, Tab: res.Tab, ItemAdded: res.ItemAdded}

	case FetchPaymentDetailsEffect:
		var d tab.PaymentDetails
		if d, err = m.deps.Backend.StartPayment(ctx, e.TabID); err != nil {
			return FetchPaymentDetailsError{Message: err.Error()}
		}
		return FetchPaymentDetailsDone{Details: d}

	case CollectPaymentEffect:
		if m.deps.Payments == nil {
			err = errors.New("no payment provider configured")
			return ApplePayError{Message: err.Error()}
		}
		var r payment.Result
		r, err = m.deps.Payments.CollectPayment(ctx, payment.Request{
			Amount:   e.Amount,
			Currency: e.Currency,
			Details:  e.Details,
		})
		switch {
		case err != nil:
			return ApplePayError{Message: err.Error()}
		case r == payment.Canceled:
			return ApplePayCanceled{}
		default:
			return ApplePayDone{}
		}

	case CheckAccessEffect:
		metrics.AccessCheckStarted()
		defer metrics.AccessCheckFinished()
		var validTo *time.Time
		if validTo, err = access.Reconcile(ctx, m.deps.Backend, e.Keys); err != nil {
			return CheckAccessError{Message: err.Error()}
		}
		return CheckAccessDone{ValidTo: validTo}

	case NotifyPurchaseAddedEffect:
		m.notify(e.Item)
		return nil

	default:
		err = fmt.Errorf("unknown effect %T", eff)
		return GenericError{Message: err.Error()}
	}
}

func failureFor(eff Effect, err error) Event {
	msg := err.Error()
	switch eff.(type) {
	case FetchConfigEffect:
		return FetchConfigError{Message: msg}
	case FetchTabEffect:
		return FetchTabError{Message: msg}
	case PurchaseEffect:
		return AddToTabError{Message: msg}
	case FetchPaymentDetailsEffect:
		return FetchPaymentDetailsError{Message: msg}
	case CollectPaymentEffect:
		return ApplePayError{Message: msg}
	case CheckAccessEffect:
		return CheckAccessError{Message: msg}
	default:
		return GenericError{Message: msg}
	}
}

func (m *Machine) notify(item AddedItem) {
	metrics.RecordPurchaseAdded()
	m.logger.Info().
		Str("offering_id", item.Offering.ID).
		Str("purchase_id", item.Purchase.ID).
		Str("price", item.Offering.Price.String()).
		Msg("Item added to tab")
	if m.deps.OnPurchaseAdded == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("Purchase-added callback panicked")
		}
	}()
	m.deps.OnPurchaseAdded(item)
}
