// Command cli runs one authorization against the provider configured in
// the environment and prints the authorization response.
//
//	AUTHFLOW_PROVIDER=google \
//	AUTHFLOW_CLIENT_ID=... \
//	AUTHFLOW_REDIRECT_URI=http://127.0.0.1:8400/callback \
//	go run ./authflow/examples/cli
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/gobeaver/authflow/authflow"
	"github.com/gobeaver/authflow/authflow/loopback"
	"github.com/gobeaver/authflow/authstate"
)

// consoleView logs what a UI would show and signals when the flow can
// be issued or has failed.
type consoleView struct {
	log       logrus.FieldLogger
	ready     chan struct{}
	failed    chan string
	cancelled chan struct{}
}

func (v *consoleView) ShowLoading(msg string) { v.log.Info(msg) }

func (v *consoleView) ShowOptions(s authflow.Snapshot) {
	v.log.WithFields(logrus.Fields{
		"client_id": s.Client.ID,
		"source":    s.Client.Source.String(),
		"browser":   s.Browser.String(),
	}).Info("ready to authorize")
	select {
	case v.ready <- struct{}{}:
	default:
	}
}

func (v *consoleView) ShowError(msg string, recoverable bool) {
	v.log.WithField("recoverable", recoverable).Error(msg)
	select {
	case v.failed <- msg:
	default:
	}
}

func (v *consoleView) ShowCancelled() {
	v.log.Warn("authorization cancelled")
	select {
	case v.cancelled <- struct{}{}:
	default:
	}
}

// printHandoff prints the authorization code and closes done.
type printHandoff struct {
	done chan struct{}
}

func (h printHandoff) AlreadyAuthorized(authstate.AuthState) {
	fmt.Println("already authorized, nothing to do")
	close(h.done)
}

func (h printHandoff) TokenExchange(_ context.Context, o authflow.Outcome) {
	fmt.Printf("authorization code: %s\n", o.Payload.Code)
	if o.Request != nil && o.Request.PKCE != nil {
		fmt.Printf("code verifier:      %s\n", o.Request.PKCE.Verifier)
	}
	close(h.done)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logrus.New()
	view := &consoleView{
		log:       log,
		ready:     make(chan struct{}, 1),
		failed:    make(chan string, 1),
		cancelled: make(chan struct{}, 1),
	}
	handoff := printHandoff{done: make(chan struct{})}
	launcher := loopback.New(loopback.WithLogger(log))

	f, err := authflow.WithPrefix("AUTHFLOW_").Flow(ctx,
		authflow.WithView(view),
		authflow.WithHandoff(handoff),
		authflow.WithLauncher(launcher),
		authflow.WithPendingLauncher(launcher),
	)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Start(ctx); err != nil {
		return err
	}
	if f.State() == authflow.StateAlreadyAuthorized {
		return nil
	}
	if hint := os.Getenv("AUTHFLOW_LOGIN_HINT"); hint != "" {
		_ = f.SetLoginHint(hint)
	}

	select {
	case <-view.ready:
	case msg := <-view.failed:
		return errors.New(msg)
	case <-ctx.Done():
		return ctx.Err()
	}

	o, err := f.StartAuthorization(ctx)
	if err != nil {
		return err
	}
	switch o.Kind {
	case authflow.OutcomeCancelled:
		return authflow.ErrIssuanceCancelled
	case authflow.OutcomePending:
		log.Info("waiting for the browser")
		select {
		case <-handoff.done:
		case <-view.cancelled:
			return authflow.ErrIssuanceCancelled
		case msg := <-view.failed:
			return errors.New(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
