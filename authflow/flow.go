package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/authstate"
)

// ErrNoLauncher is returned by StartAuthorization when no launcher for the
// configured issuance mode was supplied.
var ErrNoLauncher = errors.New("no launcher configured")

// Option configures a Flow.
type Option func(*Flow)

// WithView sets the view that renders the flow.
func WithView(v View) Option {
	return func(f *Flow) { f.view = v }
}

// WithHandoff sets the collaborator that takes over when the flow ends.
func WithHandoff(h Handoff) Option {
	return func(f *Flow) { f.handoff = h }
}

// WithLauncher sets the launcher used in direct issuance mode.
func WithLauncher(l Launcher) Option {
	return func(f *Flow) { f.launcher = l }
}

// WithPendingLauncher sets the launcher used when the configuration asks
// for pending targets.
func WithPendingLauncher(l PendingLauncher) Option {
	return func(f *Flow) { f.pending = l }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Flow) { f.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(f *Flow) { f.metrics = m }
}

// WithResolver replaces the default discovery resolver.
func WithResolver(r *Resolver) Option {
	return func(f *Flow) { f.resolver = r }
}

// WithRegistrar replaces the default client registrar.
func WithRegistrar(r *Registrar) Option {
	return func(f *Flow) { f.registrar = r }
}

// WithWarmer replaces the default PreconnectWarmer.
func WithWarmer(w Warmer) Option {
	return func(f *Flow) { f.warmer = w }
}

// WithDebounce sets the login hint quiet period.
func WithDebounce(d time.Duration) Option {
	return func(f *Flow) { f.debounce = d }
}

// WithClientName sets the client_name sent during registration.
func WithClientName(name string) Option {
	return func(f *Flow) { f.clientName = name }
}

// WithBrowser sets the initial browser matcher.
func WithBrowser(m BrowserMatcher) Option {
	return func(f *Flow) { f.matcher = m }
}

// Flow drives one authorization from configuration to the token exchange
// hand-off. Network work runs on a single background worker; the exported
// methods may be called from any goroutine.
//
// Every field below mu is guarded by it. The worker is held in an atomic
// pointer so that jobs can be submitted while mu is held.
type Flow struct {
	cfg       Configuration
	mgr       *authstate.Manager
	view      View
	handoff   Handoff
	launcher  Launcher
	pending   PendingLauncher
	resolver  *Resolver
	registrar *Registrar
	warmer    Warmer
	metrics   MetricsCollector
	log       logrus.FieldLogger

	clientName string
	debounce   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	worker    atomic.Pointer[Worker]
	scheduler *WarmupScheduler
	debouncer *Debouncer

	closeOnce sync.Once
	closers   []func() error

	mu        sync.Mutex
	state     State
	epoch     uint64
	client    ClientIdentity
	matcher   BrowserMatcher
	session   *Session
	loginHint string
	lastErr   *FlowError
	issued    *AuthorizationRequest
	paused    bool
	closed    bool

	// set while Issuing, applied once the issuance ends without completing
	deferredState *authstate.AuthState
	deferredStart bool
}

// New creates a flow in the Init state. Nothing runs until Start.
func New(cfg Configuration, mgr *authstate.Manager, opts ...Option) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", ErrInvalidConfig)
	}
	if mgr == nil {
		return nil, errors.New("authflow: nil auth state manager")
	}

	f := &Flow{
		cfg:        cfg,
		mgr:        mgr,
		view:       NopView{},
		handoff:    nopHandoff{},
		metrics:    nopMetrics{},
		log:        logrus.StandardLogger(),
		clientName: "authflow",
		debounce:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}

	client := cfg.HTTPClient()
	if f.resolver == nil {
		f.resolver = NewResolver(client,
			WithResolverLogger(f.log),
			WithResolverMetrics(f.metrics),
		)
	}
	if f.registrar == nil {
		f.registrar = NewRegistrar(client,
			WithRegistrarLogger(f.log),
			WithRegistrarMetrics(f.metrics),
		)
	}
	if f.warmer == nil {
		f.warmer = PreconnectWarmer{Client: client, Log: f.log}
	}

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.worker.Store(NewWorker())
	f.scheduler = NewWarmupScheduler(f.submit, f.metrics, f.log)
	f.debouncer = NewDebouncer(f.debounce)
	return f, nil
}

// Start runs the Init step. An authorized state under an unchanged
// configuration is handed to Handoff.AlreadyAuthorized and ends the flow.
// An invalid configuration moves the flow to a non-recoverable Error and
// is returned. Otherwise initialization continues on the worker. During
// issuance the restart is recorded and runs once the issuance ends
// without completing.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state == StateIssuing {
		f.deferredStart = true
		f.mu.Unlock()
		f.log.Info("authorization in progress, restart deferred")
		return nil
	}
	f.epoch++
	epoch := f.epoch
	f.lastErr = nil
	f.setStateLocked(StateInit)
	f.mu.Unlock()

	changed := f.cfg.HasConfigurationChanged()
	if st := f.mgr.Current(); st.IsAuthorized() && !changed {
		f.mu.Lock()
		f.setStateLocked(StateAlreadyAuthorized)
		f.mu.Unlock()

		f.log.Info("already authorized, skipping authorization")
		f.handoff.AlreadyAuthorized(st)
		f.shutdown()
		return nil
	}

	if !f.cfg.IsValid() {
		err := fmt.Errorf("%w: %s", ErrInvalidConfig, f.cfg.ConfigurationError())
		f.fail(epoch, KindConfigurationInvalid, err, false)
		return err
	}

	if changed {
		f.log.Info("configuration changed, discarding stored auth state")
		f.mu.Lock()
		err := f.resetLocked(ctx)
		f.mu.Unlock()
		if err != nil {
			return err
		}
		if err := f.cfg.AcceptConfiguration(); err != nil {
			f.log.WithError(err).Warn("failed to record accepted configuration")
		}
	}

	return f.initialize()
}

// Retry restarts the flow at Init. It is only allowed from a recoverable
// Error or after a cancellation.
func (f *Flow) Retry(ctx context.Context) error {
	f.mu.Lock()
	state, lastErr := f.state, f.lastErr
	f.mu.Unlock()

	switch state {
	case StateError:
		if lastErr != nil && !lastErr.Recoverable {
			return lastErr
		}
	case StateCancelled:
	default:
		return fmt.Errorf("%w: cannot retry from %s", ErrNotReady, state)
	}
	return f.Start(ctx)
}

// SelectBrowser switches the browser the authorization page opens in. The
// current session is disposed and, once a client is resolved, the request
// is rebuilt and warmed for the new browser. During issuance the choice is
// only recorded.
func (f *Flow) SelectBrowser(m BrowserMatcher) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.matcher = m
	if f.state == StateIssuing {
		f.mu.Unlock()
		return nil
	}

	f.recreateSessionLocked()
	if !f.canRebuildLocked() {
		f.mu.Unlock()
		return nil
	}
	snap, err := f.rebuildLocked()
	f.mu.Unlock()

	if err != nil {
		return err
	}
	f.view.ShowOptions(snap)
	return nil
}

// SetLoginHint records the login hint and rebuilds the request once the
// hint has been stable for the debounce period.
func (f *Flow) SetLoginHint(hint string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.loginHint = hint
	f.mu.Unlock()

	f.debouncer.Trigger(f.loginHintSettled)
	return nil
}

func (f *Flow) loginHintSettled() {
	f.mu.Lock()
	if f.closed || !f.canRebuildLocked() {
		f.mu.Unlock()
		return
	}
	snap, err := f.rebuildLocked()
	f.mu.Unlock()

	if err != nil {
		f.log.WithError(err).Warn("login hint rebuild not scheduled")
		return
	}
	f.view.ShowOptions(snap)
}

// StartAuthorization issues the latest request. It waits for the latest
// warm-up, however long it takes, bounded by ctx and the flow's lifetime.
// In direct mode it returns the final outcome; in pending-target mode it
// returns an OutcomePending and the result arrives through Complete or
// Cancel.
func (f *Flow) StartAuthorization(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Outcome{Kind: OutcomeFailed, Err: ErrClosed}, ErrClosed
	}
	switch f.state {
	case StateReady, StateBuildingRequest, StateWarmingUp:
	default:
		state := f.state
		f.mu.Unlock()
		err := fmt.Errorf("%w: cannot issue from %s", ErrNotReady, state)
		return Outcome{Kind: OutcomeFailed, Err: err}, err
	}
	f.setStateLocked(StateIssuing)
	epoch := f.epoch
	f.mu.Unlock()

	pendingMode := f.cfg.UsePendingTargets()
	if (pendingMode && f.pending == nil) || (!pendingMode && f.launcher == nil) {
		return f.deliver(ctx, epoch, Outcome{Kind: OutcomeFailed, Err: ErrNoLauncher})
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()

	start := time.Now()
	req, art, err := f.scheduler.Await(waitCtx)
	if err != nil {
		return f.deliver(ctx, epoch, Outcome{Kind: OutcomeFailed, Err: err})
	}
	if !art.BoundTo(req) {
		err := fmt.Errorf("artifact %s was not built for the request being issued", art.ID)
		return f.deliver(ctx, epoch, Outcome{Kind: OutcomeFailed, Request: req, Err: err})
	}

	f.mu.Lock()
	if f.closed || f.state != StateIssuing || f.epoch != epoch {
		f.mu.Unlock()
		err := fmt.Errorf("%w: issuance superseded before launch", ErrNotReady)
		return Outcome{Kind: OutcomeFailed, Request: req, Err: err}, err
	}
	f.issued = req
	f.mu.Unlock()

	f.log.WithFields(logrus.Fields{
		"artifact": art.ID,
		"browser":  art.Browser.String(),
		"pending":  pendingMode,
		"waited":   time.Since(start).String(),
	}).Info("issuing authorization request")

	if pendingMode {
		targets := Targets{
			OnComplete: func(resp *AuthorizationResponse) { _ = f.Complete(resp) },
			OnCancel:   func() { _ = f.Cancel() },
		}
		if err := f.pending.LaunchPending(f.ctx, *art, targets); err != nil {
			return f.deliver(ctx, epoch, Outcome{Kind: OutcomeFailed, Request: req, Err: err})
		}
		f.metrics.RecordOperation(OpIssuance, true, time.Since(start))
		return Outcome{Kind: OutcomePending, Request: req}, nil
	}

	resp, err := f.launcher.Launch(waitCtx, *art)
	f.metrics.RecordOperation(OpIssuance, err == nil, time.Since(start))
	switch {
	case errors.Is(err, ErrIssuanceCancelled), errors.Is(err, ErrAccessDenied):
		return f.deliver(ctx, epoch, Outcome{Kind: OutcomeCancelled, Request: req, Err: err})
	case err != nil:
		return f.deliver(ctx, epoch, Outcome{Kind: OutcomeFailed, Request: req, Err: err})
	default:
		return f.deliver(ctx, epoch, Outcome{Kind: OutcomeCompleted, Request: req, Payload: resp})
	}
}

// Complete delivers a successful result of a pending launch.
func (f *Flow) Complete(resp *AuthorizationResponse) error {
	f.mu.Lock()
	if f.state != StateIssuing {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: no authorization in progress (%s)", ErrNotReady, state)
	}
	epoch, req := f.epoch, f.issued
	f.mu.Unlock()

	_, err := f.deliver(f.ctx, epoch, Outcome{Kind: OutcomeCompleted, Request: req, Payload: resp})
	return err
}

// Cancel delivers a cancellation of a pending launch.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	if f.state != StateIssuing {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: no authorization in progress (%s)", ErrNotReady, state)
	}
	epoch, req := f.epoch, f.issued
	f.mu.Unlock()

	_, err := f.deliver(f.ctx, epoch, Outcome{Kind: OutcomeCancelled, Request: req, Err: ErrIssuanceCancelled})
	return err
}

// deliver applies an outcome. Only the first outcome for an issuance takes
// effect.
func (f *Flow) deliver(ctx context.Context, epoch uint64, o Outcome) (Outcome, error) {
	f.mu.Lock()
	if f.state != StateIssuing || f.epoch != epoch {
		f.mu.Unlock()
		return o, fmt.Errorf("%w: outcome %s arrived after the issuance ended", ErrNotReady, o.Kind)
	}
	f.issued = nil
	deferredState, deferredStart := f.deferredState, f.deferredStart
	f.deferredState, f.deferredStart = nil, false
	switch o.Kind {
	case OutcomeCompleted:
		f.setStateLocked(StateCompleted)
	case OutcomeCancelled:
		f.setStateLocked(StateCancelled)
	default:
		f.setStateLocked(StateFailed)
	}
	f.mu.Unlock()

	f.metrics.RecordOutcome(o.Kind)

	switch o.Kind {
	case OutcomeCompleted:
		f.log.Info("authorization completed")
		if deferredState != nil || deferredStart {
			f.log.Warn("authorization completed, dropping the restart requested during issuance")
		}
		f.handoff.TokenExchange(ctx, o)
		f.shutdown()
		return o, nil

	case OutcomeCancelled:
		f.log.WithError(o.Err).Info("authorization cancelled")
		f.metrics.RecordError(KindIssuanceCancelled)
		f.view.ShowCancelled()
		f.applyDeferredState(ctx, deferredState)
		restart := f.initialize
		if deferredStart {
			restart = func() error { return f.Start(context.WithoutCancel(ctx)) }
		}
		if err := restart(); err != nil && !errors.Is(err, ErrClosed) {
			f.log.WithError(err).Warn("failed to restart after cancellation")
		}
		return o, nil

	default:
		kind := KindIssuanceFailed
		if errors.Is(o.Err, ErrInterruptedWait) {
			kind = KindInterruptedWait
		}
		f.fail(epoch, kind, o.Err, true)
		f.applyDeferredState(ctx, deferredState)
		if deferredStart {
			if err := f.Start(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrClosed) {
				f.log.WithError(err).Warn("deferred restart failed")
			}
		}
		return o, o.Err
	}
}

// applyDeferredState swaps in an auth state that arrived during issuance.
func (f *Flow) applyDeferredState(ctx context.Context, st *authstate.AuthState) {
	if st == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if err := f.replaceLocked(context.WithoutCancel(ctx), *st); err != nil {
		f.log.WithError(err).Warn("failed to apply the deferred auth state")
	}
}

// Pause stops background work. In-flight jobs are cancelled and their
// results dropped.
func (f *Flow) Pause() {
	f.mu.Lock()
	if f.closed || f.paused {
		f.mu.Unlock()
		return
	}
	f.paused = true
	w := f.worker.Swap(nil)
	f.scheduler.Invalidate()
	f.mu.Unlock()

	f.debouncer.Cancel()
	if w != nil {
		w.Stop()
	}
	f.log.Debug("flow paused")
}

// Resume starts a fresh worker and redoes the work Pause dropped.
func (f *Flow) Resume() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if !f.paused {
		f.mu.Unlock()
		return nil
	}
	f.paused = false
	f.worker.Store(NewWorker())
	f.log.Debug("flow resumed")

	state := f.state
	switch {
	case state == StateError, state == StateCancelled, state.Terminal():
		f.mu.Unlock()
		return nil
	case state == StateInit:
		f.mu.Unlock()
		return nil
	case f.client.ID != "":
		if state == StateIssuing {
			_, err := f.scheduleLocked()
			f.mu.Unlock()
			return err
		}
		snap, err := f.rebuildLocked()
		f.mu.Unlock()
		if err != nil {
			return err
		}
		f.view.ShowOptions(snap)
		return nil
	default:
		f.mu.Unlock()
		return f.initialize()
	}
}

// Close disposes the session, stops all background work and releases
// the backends the flow opened itself.
func (f *Flow) Close() error {
	f.shutdown()
	var err error
	f.closeOnce.Do(func() { err = f.closeOwned() })
	return err
}

func (f *Flow) shutdown() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.epoch++
	if f.session != nil {
		f.session.Dispose()
		f.session = nil
	}
	w := f.worker.Swap(nil)
	f.mu.Unlock()

	f.debouncer.Stop()
	f.scheduler.Invalidate()
	if w != nil {
		w.Stop()
	}
	f.cancel()
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns a consistent view of the flow.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) snapshotLocked() Snapshot {
	req, _, warmed := f.scheduler.Ready()
	st := f.mgr.Current()
	return Snapshot{
		State:       f.state,
		Client:      f.client,
		Request:     req,
		Browser:     f.matcher,
		LoginHint:   f.loginHint,
		WarmedUp:    warmed,
		LastError:   f.lastErr,
		Generation:  f.scheduler.Generation(),
		Config:      st.Config,
		Recoverable: f.lastErr != nil && f.lastErr.Recoverable,
	}
}

// ReplaceAuthState swaps the stored auth state. The resolved client,
// request and warmed artifact are dropped with it, and a started flow
// initializes again from the new state. During issuance the replacement
// is held until the issuance ends; a completed issuance drops it.
func (f *Flow) ReplaceAuthState(ctx context.Context, st authstate.AuthState) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state == StateIssuing {
		f.deferredState = &st
		f.mu.Unlock()
		f.log.Info("authorization in progress, auth state replacement deferred")
		return nil
	}
	if err := f.replaceLocked(ctx, st); err != nil {
		f.mu.Unlock()
		return err
	}
	restart := f.state != StateInit && f.state != StateError && !f.state.Terminal()
	f.mu.Unlock()

	if !restart {
		return nil
	}
	return f.initialize()
}

// must hold f.mu
func (f *Flow) replaceLocked(ctx context.Context, st authstate.AuthState) error {
	if err := f.mgr.Replace(ctx, st); err != nil {
		return err
	}
	f.dropDerivedLocked()
	return nil
}

// must hold f.mu
func (f *Flow) resetLocked(ctx context.Context) error {
	if err := f.mgr.Reset(ctx); err != nil {
		return err
	}
	f.dropDerivedLocked()
	return nil
}

// dropDerivedLocked forgets everything derived from the previous auth
// state: the resolved client, the request and the warmed artifact.
// must hold f.mu
func (f *Flow) dropDerivedLocked() {
	f.epoch++
	f.client = ClientIdentity{}
	f.scheduler.Invalidate()
}

// initialize starts a fresh run of the ResolvingConfig, ResolvingClient,
// BuildingRequest and WarmingUp steps.
func (f *Flow) initialize() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.epoch++
	epoch := f.epoch
	f.lastErr = nil
	f.client = ClientIdentity{}
	f.recreateSessionLocked()
	f.scheduler.Invalidate()
	f.setStateLocked(StateResolvingConfig)
	paused := f.paused
	f.mu.Unlock()

	f.view.ShowLoading("Resolving provider configuration")
	if paused {
		return nil
	}
	return f.submit(func(ctx context.Context) { f.runInit(ctx, epoch) })
}

func (f *Flow) runInit(ctx context.Context, epoch uint64) {
	if !f.isEpoch(epoch) {
		return
	}

	if f.mgr.Current().Config == nil {
		pc, err := f.resolveConfig(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.fail(epoch, KindDiscoveryFailed, err, true)
			}
			return
		}
		if err := f.withEpoch(epoch, func() error { return f.mgr.SetConfig(ctx, pc) }); err != nil {
			f.fail(epoch, KindDiscoveryFailed, err, true)
			return
		}
	}
	if !f.advance(epoch, StateResolvingClient) {
		return
	}
	f.view.ShowLoading("Resolving client")

	record := func(resp *authstate.RegistrationResponse, regErr error) error {
		return f.withEpoch(epoch, func() error {
			return f.mgr.UpdateAfterRegistration(ctx, resp, regErr)
		})
	}
	id, err := resolveClient(ctx, f.cfg, f.mgr.Current(), f.registrar, f.clientName, record)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, errStaleEpoch) {
			f.fail(epoch, KindRegistrationFailed, err, true)
		}
		return
	}

	f.mu.Lock()
	if f.epoch != epoch || f.closed {
		f.mu.Unlock()
		return
	}
	f.client = id
	f.log.WithFields(logrus.Fields{
		"client_id": id.ID,
		"source":    id.Source.String(),
	}).Info("client resolved")
	snap, err := f.rebuildLocked()
	f.mu.Unlock()

	if err != nil {
		f.log.WithError(err).Warn("request build not scheduled")
		return
	}
	f.view.ShowOptions(snap)
}

// resolveConfig returns the provider configuration: synthesized from the
// static endpoints when no discovery URI is configured, discovered
// otherwise.
func (f *Flow) resolveConfig(ctx context.Context) (*ProviderConfig, error) {
	uri := f.cfg.DiscoveryURI()
	if uri == "" {
		return &ProviderConfig{
			AuthorizationEndpoint: f.cfg.AuthorizationEndpoint(),
			TokenEndpoint:         f.cfg.TokenEndpoint(),
			RegistrationEndpoint:  f.cfg.RegistrationEndpoint(),
			EndSessionEndpoint:    f.cfg.EndSessionEndpoint(),
			UserInfoEndpoint:      f.cfg.UserInfoEndpoint(),
		}, nil
	}
	return f.resolver.Resolve(ctx, uri)
}

// rebuildLocked runs BuildingRequest and WarmingUp and settles in Ready
// without waiting for the warm-up. It returns the snapshot to show.
// must hold f.mu
func (f *Flow) rebuildLocked() (Snapshot, error) {
	f.setStateLocked(StateBuildingRequest)
	if _, err := f.scheduleLocked(); err != nil {
		return Snapshot{}, err
	}
	f.setStateLocked(StateWarmingUp)
	f.setStateLocked(StateReady)
	return f.snapshotLocked(), nil
}

// must hold f.mu
func (f *Flow) scheduleLocked() (uint64, error) {
	if f.session == nil {
		f.recreateSessionLocked()
	}
	if f.paused {
		f.scheduler.Invalidate()
		return 0, nil
	}

	cfg, client, hint := f.mgr.Current().Config, f.client, f.loginHint
	build := func(ctx context.Context) (*AuthorizationRequest, error) {
		start := time.Now()
		req, err := BuildRequest(RequestParams{
			Config:      cfg,
			ClientID:    client.ID,
			Scope:       f.cfg.Scope(),
			RedirectURI: f.cfg.RedirectURI(),
			LoginHint:   hint,
		})
		f.metrics.RecordOperation(OpRebuild, err == nil, time.Since(start))
		return req, err
	}
	return f.scheduler.Schedule(build, f.session)
}

// must hold f.mu
func (f *Flow) recreateSessionLocked() {
	if f.session != nil {
		f.session.Dispose()
	}
	f.session = NewSession(f.matcher, f.warmer)
}

// must hold f.mu
func (f *Flow) canRebuildLocked() bool {
	if f.client.ID == "" {
		return false
	}
	switch f.state {
	case StateReady, StateBuildingRequest, StateWarmingUp:
		return true
	default:
		return false
	}
}

var errStaleEpoch = errors.New("flow restarted")

// withEpoch runs fn under the flow lock if epoch is still current, so a
// result from an abandoned run never lands in a replaced auth state.
func (f *Flow) withEpoch(epoch uint64, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch || f.closed {
		return errStaleEpoch
	}
	return fn()
}

func (f *Flow) isEpoch(epoch uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch == epoch && !f.closed
}

func (f *Flow) advance(epoch uint64, to State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch || f.closed {
		return false
	}
	f.setStateLocked(to)
	return true
}

func (f *Flow) fail(epoch uint64, kind ErrorKind, err error, recoverable bool) {
	fe := &FlowError{Kind: kind, Err: err, Recoverable: recoverable}

	f.mu.Lock()
	if f.epoch != epoch || f.closed {
		f.mu.Unlock()
		return
	}
	f.lastErr = fe
	f.setStateLocked(StateError)
	f.mu.Unlock()

	f.metrics.RecordError(kind)
	f.log.WithError(err).WithFields(logrus.Fields{
		"kind":        kind.String(),
		"recoverable": recoverable,
	}).Error("authorization flow failed")
	f.view.ShowError(fe.Error(), recoverable)
}

func (f *Flow) submit(job Job) error {
	w := f.worker.Load()
	if w == nil {
		return ErrWorkerStopped
	}
	return w.Submit(job)
}

// must hold f.mu
func (f *Flow) setStateLocked(to State) {
	if f.state == to {
		return
	}
	f.log.WithFields(logrus.Fields{
		"from": f.state.String(),
		"to":   to.String(),
	}).Debug("state transition")
	f.state = to
}
