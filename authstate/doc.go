// Package authstate holds the authorization state shared by a client and
// its provider: the provider configuration, the last dynamic client
// registration, and whatever token results a token exchange stores.
//
// A Manager owns the single active AuthState. Reads return copies; writes
// are persisted before they become visible. Persisters exist for process
// memory, the cache package (memory or Redis), the database package (GORM
// over sqlite, postgres, mysql or libsql) and the filekit package (local
// disk or S3).
//
//	p, err := authstate.WithPrefix("AUTHFLOW_").Persister()
//	if err != nil {
//	    return err
//	}
//	mgr, err := authstate.NewManager(ctx, p)
package authstate
