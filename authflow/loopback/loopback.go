// Package loopback launches authorization requests in the system browser
// and receives the response on a loopback redirect URI (RFC 8252 section
// 7.3). It implements both authflow.Launcher and authflow.PendingLauncher.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"time"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/authflow"
)

// ErrNotLoopback is returned for a redirect URI that is not a plain http
// URI on a loopback address with an explicit port.
var ErrNotLoopback = errors.New("redirect uri is not a loopback address")

// ErrStateMismatch is returned when the callback carries a foreign state.
var ErrStateMismatch = errors.New("state mismatch in authorization response")

// Launcher opens the authorization URI and serves the redirect URI until
// the provider calls back.
type Launcher struct {
	openURL func(string) error
	log     logrus.FieldLogger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithBrowserOpen overrides how the authorization URI is opened. The
// default uses the platform's browser opener.
func WithBrowserOpen(openURL func(url string) error) Option {
	return func(l *Launcher) { l.openURL = openURL }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Launcher) { l.log = log }
}

// New creates a Launcher.
func New(opts ...Option) *Launcher {
	l := &Launcher{
		openURL: browser.OpenURL,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type callbackResult struct {
	resp *authflow.AuthorizationResponse
	err  error
}

// Launch opens the artifact's request and waits for the callback.
func (l *Launcher) Launch(ctx context.Context, art authflow.Artifact) (*authflow.AuthorizationResponse, error) {
	results, stop, err := l.start(ctx, art)
	if err != nil {
		return nil, err
	}
	defer stop()

	select {
	case res := <-results:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for authorization callback: %w", ctx.Err())
	}
}

// LaunchPending opens the artifact's request and returns. The callback is
// delivered to targets; an access_denied response or the end of ctx
// counts as a cancellation.
func (l *Launcher) LaunchPending(ctx context.Context, art authflow.Artifact, targets authflow.Targets) error {
	results, stop, err := l.start(ctx, art)
	if err != nil {
		return err
	}

	go func() {
		defer stop()
		select {
		case res := <-results:
			switch {
			case res.err == nil:
				if targets.OnComplete != nil {
					targets.OnComplete(res.resp)
				}
			default:
				if !errors.Is(res.err, authflow.ErrAccessDenied) {
					l.log.WithError(res.err).Warn("authorization callback failed")
				}
				if targets.OnCancel != nil {
					targets.OnCancel()
				}
			}
		case <-ctx.Done():
			if targets.OnCancel != nil {
				targets.OnCancel()
			}
		}
	}()
	return nil
}

// start listens on the redirect URI and opens the browser. stop shuts the
// listener down.
func (l *Launcher) start(ctx context.Context, art authflow.Artifact) (<-chan callbackResult, func(), error) {
	authURL, err := url.Parse(art.RequestURI)
	if err != nil {
		return nil, nil, fmt.Errorf("parse authorization uri: %w", err)
	}
	query := authURL.Query()
	redirect, err := ParseRedirectURI(query.Get("redirect_uri"))
	if err != nil {
		return nil, nil, err
	}
	state := query.Get("state")

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open callback listener: %w", err)
	}

	results := make(chan callbackResult, 1)
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, &callbackHandler{path: path, state: state, results: results})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.WithError(err).Warn("callback server stopped")
		}
	}()
	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	l.log.WithFields(logrus.Fields{
		"artifact": art.ID,
		"browser":  art.Browser.String(),
		"callback": redirect.String(),
	}).Info("opening authorization page")

	if err := l.open(ctx, art); err != nil {
		stop()
		return nil, nil, fmt.Errorf("could not open browser: %w", err)
	}
	return results, stop, nil
}

func (l *Launcher) open(ctx context.Context, art authflow.Artifact) error {
	if d, ok := art.Browser.Exact(); ok && d.Path != "" {
		return exec.CommandContext(ctx, d.Path, art.RequestURI).Start()
	}
	return l.openURL(art.RequestURI)
}

// ParseRedirectURI checks that raw can be served by a Launcher.
func ParseRedirectURI(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotLoopback, err)
	}
	if u.Scheme != "http" || u.Port() == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotLoopback, raw)
	}
	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("%w: %q", ErrNotLoopback, raw)
		}
	}
	return u, nil
}

// callbackHandler answers on the redirect path only. Requests that carry
// neither a code nor an error are not authorization responses and leave
// the pending result alone.
type callbackHandler struct {
	path    string
	state   string
	results chan callbackResult
}

func (h *callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != h.path {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if !q.Has("code") && !q.Has("error") {
		http.Error(w, "not an authorization response", http.StatusBadRequest)
		return
	}

	if q.Get("state") != h.state {
		h.deliver(callbackResult{err: ErrStateMismatch})
		http.Error(w, ErrStateMismatch.Error(), http.StatusBadRequest)
		return
	}

	if code := q.Get("error"); code != "" {
		err := authflow.ParseError("", code, q.Get("error_description"), q.Get("error_uri"))
		h.deliver(callbackResult{err: err})
		writePage(w, http.StatusOK, "Authorization was not completed. You can close this window.")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.deliver(callbackResult{err: errors.New("authorization response has no code")})
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	h.deliver(callbackResult{resp: &authflow.AuthorizationResponse{
		Code:   code,
		State:  q.Get("state"),
		Params: params,
	}})
	writePage(w, http.StatusOK, "Authorization complete. You can close this window.")
}

// deliver keeps the first result only.
func (h *callbackHandler) deliver(res callbackResult) {
	select {
	case h.results <- res:
	default:
	}
}

func writePage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p></body></html>", html.EscapeString(msg))
}
