// Package driver holds what the cache backends share.
package driver

import "errors"

// ErrKeyNotFound is returned by every backend for a missing or expired key.
var ErrKeyNotFound = errors.New("key not found")
