// Package authflow runs the OAuth 2.0 / OpenID Connect authorization code
// flow for native and command line clients.
//
// A Flow establishes the provider configuration (discovery or static
// endpoints), resolves a client id (static, previously registered, or by
// RFC 7591 dynamic registration), builds an authorization request with
// PKCE, state and nonce, and prepares the browser launch ahead of the user
// asking for it. Network work runs on one background worker; the methods
// driven by user input never block except StartAuthorization, which waits
// for the latest warm-up.
//
// # Quick Start
//
// Configuration comes from the environment (AUTHFLOW_REDIRECT_URI,
// AUTHFLOW_DISCOVERY_URI or AUTHFLOW_PROVIDER, AUTHFLOW_CLIENT_ID, ...):
//
//	f, err := authflow.WithPrefix("AUTHFLOW_").Flow(ctx,
//	    authflow.WithLauncher(launcher),
//	    authflow.WithHandoff(exchanger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	if err := f.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	outcome, err := f.StartAuthorization(ctx)
//
// # States
//
// Init, ResolvingConfig, ResolvingClient, BuildingRequest, WarmingUp and
// Ready are passed through on start. Browser selection and login hint
// changes rebuild the request from Ready. StartAuthorization moves to
// Issuing and ends in Completed (handed to Handoff.TokenExchange),
// Cancelled (initialization runs again) or a recoverable Error.
// Discovery and registration failures are recoverable through Retry; an
// invalid configuration is not.
package authflow
