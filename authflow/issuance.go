package authflow

import (
	"context"

	"github.com/gobeaver/authflow/authstate"
)

// Launcher opens the authorization page for a warmed artifact and waits
// for the provider's response. A user cancellation is reported as an
// error matching ErrIssuanceCancelled or ErrAccessDenied.
type Launcher interface {
	Launch(ctx context.Context, art Artifact) (*AuthorizationResponse, error)
}

// Targets receive the result of a pending launch. Exactly one of them is
// called, at most once.
type Targets struct {
	OnComplete func(*AuthorizationResponse)
	OnCancel   func()
}

// PendingLauncher opens the authorization page and returns immediately.
// The result arrives later through targets.
type PendingLauncher interface {
	LaunchPending(ctx context.Context, art Artifact, targets Targets) error
}

// View renders the flow. Its methods are called from the flow's worker
// and from the goroutines calling Flow methods, never with flow locks held.
type View interface {
	ShowLoading(msg string)
	ShowOptions(s Snapshot)
	ShowError(msg string, recoverable bool)
	ShowCancelled()
}

// NopView ignores every update.
type NopView struct{}

func (NopView) ShowLoading(string)     {}
func (NopView) ShowOptions(Snapshot)   {}
func (NopView) ShowError(string, bool) {}
func (NopView) ShowCancelled()         {}

// Handoff receives control when the flow's lifecycle ends.
type Handoff interface {
	// AlreadyAuthorized is called instead of running the flow when the
	// stored state is authorized and the configuration is unchanged.
	AlreadyAuthorized(st authstate.AuthState)
	// TokenExchange receives a completed outcome.
	TokenExchange(ctx context.Context, o Outcome)
}

type nopHandoff struct{}

func (nopHandoff) AlreadyAuthorized(authstate.AuthState)  {}
func (nopHandoff) TokenExchange(context.Context, Outcome) {}
