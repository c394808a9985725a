package authflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/krypto"
)

// ErrSessionDisposed is returned by a Session used after Dispose.
var ErrSessionDisposed = errors.New("authorization session disposed")

var errSuperseded = errors.New("warm-up superseded")

// Warmer prepares the launch artifact for a request.
type Warmer interface {
	Warm(ctx context.Context, req *AuthorizationRequest, browser BrowserMatcher) (*Artifact, error)
}

// WarmerFunc adapts a function to Warmer.
type WarmerFunc func(ctx context.Context, req *AuthorizationRequest, browser BrowserMatcher) (*Artifact, error)

func (f WarmerFunc) Warm(ctx context.Context, req *AuthorizationRequest, browser BrowserMatcher) (*Artifact, error) {
	return f(ctx, req, browser)
}

// NewArtifact binds a fresh artifact to req.
func NewArtifact(req *AuthorizationRequest, browser BrowserMatcher) *Artifact {
	return &Artifact{
		ID:         krypto.NewID(),
		RequestURI: req.URI(),
		Browser:    browser,
		PreparedAt: time.Now(),
	}
}

// PreconnectWarmer opens a connection to the authorization endpoint with a
// HEAD request so DNS, TCP and TLS are settled before the browser needs
// them. A failed preconnect still yields an artifact.
type PreconnectWarmer struct {
	Client *http.Client
	Log    logrus.FieldLogger
}

func (w PreconnectWarmer) Warm(ctx context.Context, req *AuthorizationRequest, browser BrowserMatcher) (*Artifact, error) {
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, req.Config.AuthorizationEndpoint, nil)
	if err == nil {
		var resp *http.Response
		if resp, err = client.Do(headReq); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if w.Log != nil {
			w.Log.WithError(err).Debug("preconnect failed")
		}
	}
	return NewArtifact(req, browser), nil
}

// Session is the authorization service session for one browser choice.
// Exactly one is live per flow; switching browsers disposes the old one.
type Session struct {
	ID      string
	Browser BrowserMatcher

	warmer   Warmer
	disposed atomic.Bool
}

// NewSession creates a session warming with w for browser m.
func NewSession(m BrowserMatcher, w Warmer) *Session {
	return &Session{ID: krypto.NewID(), Browser: m, warmer: w}
}

// Warm prepares an artifact for req.
func (s *Session) Warm(ctx context.Context, req *AuthorizationRequest) (*Artifact, error) {
	if s.disposed.Load() {
		return nil, ErrSessionDisposed
	}
	return s.warmer.Warm(ctx, req, s.Browser)
}

// Dispose releases the session. Later Warm calls fail.
func (s *Session) Dispose() {
	s.disposed.Store(true)
}

// Disposed reports whether Dispose was called.
func (s *Session) Disposed() bool {
	return s.disposed.Load()
}

// gate is a one-shot readiness latch for one warm-up generation. It
// carries the request and artifact together so they cannot be mismatched.
type gate struct {
	gen  uint64
	done chan struct{}
	once sync.Once

	req *AuthorizationRequest
	art *Artifact
	err error
}

func newGate(gen uint64) *gate {
	return &gate{gen: gen, done: make(chan struct{})}
}

func (g *gate) resolve(req *AuthorizationRequest, art *Artifact, err error) {
	g.once.Do(func() {
		g.req, g.art, g.err = req, art, err
		close(g.done)
	})
}

func (g *gate) resolved() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// BuildFunc builds the request a warm-up prepares for.
type BuildFunc func(ctx context.Context) (*AuthorizationRequest, error)

// WarmupScheduler builds requests and warms artifacts on the worker. Each
// Schedule call creates a new generation; results of older generations are
// never returned by Await.
type WarmupScheduler struct {
	submit  func(Job) error
	metrics MetricsCollector
	log     logrus.FieldLogger

	mu      sync.Mutex
	gen     uint64
	current *gate
	changed chan struct{}
}

// NewWarmupScheduler creates a scheduler that runs jobs through submit.
func NewWarmupScheduler(submit func(Job) error, metrics MetricsCollector, log logrus.FieldLogger) *WarmupScheduler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WarmupScheduler{
		submit:  submit,
		metrics: metrics,
		log:     log,
		changed: make(chan struct{}),
	}
}

// Schedule starts a new generation: its gate is installed before Schedule
// returns, then build and warm-up run on the worker.
func (s *WarmupScheduler) Schedule(build BuildFunc, session *Session) (uint64, error) {
	s.mu.Lock()
	s.gen++
	g := newGate(s.gen)
	old := s.current
	s.current = g
	s.broadcastLocked()
	s.mu.Unlock()

	if old != nil {
		old.resolve(nil, nil, errSuperseded)
	}

	err := s.submit(func(ctx context.Context) {
		if !s.isCurrent(g) {
			g.resolve(nil, nil, errSuperseded)
			return
		}

		start := time.Now()
		req, err := build(ctx)
		if err != nil {
			g.resolve(nil, nil, err)
			return
		}
		if !s.isCurrent(g) {
			g.resolve(nil, nil, errSuperseded)
			return
		}

		art, err := session.Warm(ctx, req)
		s.metrics.RecordOperation(OpWarmup, err == nil, time.Since(start))
		if err != nil {
			g.resolve(nil, nil, err)
			return
		}
		g.resolve(req, art, nil)

		s.log.WithFields(logrus.Fields{
			"generation": g.gen,
			"artifact":   art.ID,
			"browser":    session.Browser.String(),
		}).Debug("warm-up ready")
	})
	if err != nil {
		g.resolve(nil, nil, err)
		return g.gen, err
	}
	return g.gen, nil
}

// Invalidate drops the current generation. Waiters keep waiting for the
// next Schedule.
func (s *WarmupScheduler) Invalidate() {
	s.mu.Lock()
	s.gen++
	old := s.current
	s.current = nil
	s.broadcastLocked()
	s.mu.Unlock()

	if old != nil {
		old.resolve(nil, nil, errSuperseded)
	}
}

// Await blocks until the latest generation is ready and returns its
// request and artifact. If a newer generation replaces the one being
// waited on, Await moves to it. When ctx ends first, Await returns the
// latest result only if one is already available, otherwise
// ErrInterruptedWait.
func (s *WarmupScheduler) Await(ctx context.Context) (*AuthorizationRequest, *Artifact, error) {
	for {
		s.mu.Lock()
		g, changed := s.current, s.changed
		s.mu.Unlock()

		if g == nil {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return s.interrupted(ctx, nil)
			}
		}

		select {
		case <-g.done:
			if errors.Is(g.err, errSuperseded) || !s.isCurrent(g) {
				continue
			}
			if g.err != nil {
				return nil, nil, g.err
			}
			return g.req, g.art, nil
		case <-ctx.Done():
			return s.interrupted(ctx, g)
		}
	}
}

func (s *WarmupScheduler) interrupted(ctx context.Context, g *gate) (*AuthorizationRequest, *Artifact, error) {
	if g != nil && g.resolved() && g.err == nil && s.isCurrent(g) {
		s.log.WithField("generation", g.gen).Warn("warm-up wait interrupted, artifact already present")
		return g.req, g.art, nil
	}
	s.log.WithError(ctx.Err()).Warn("warm-up wait interrupted without an artifact")
	return nil, nil, errors.Join(ErrInterruptedWait, ctx.Err())
}

// Ready returns the latest generation's result without blocking.
func (s *WarmupScheduler) Ready() (*AuthorizationRequest, *Artifact, bool) {
	s.mu.Lock()
	g := s.current
	s.mu.Unlock()

	if g == nil || !g.resolved() || g.err != nil {
		return nil, nil, false
	}
	return g.req, g.art, true
}

// Generation returns the number of the latest generation.
func (s *WarmupScheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *WarmupScheduler) isCurrent(g *gate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == g
}

// must hold s.mu
func (s *WarmupScheduler) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
