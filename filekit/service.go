package filekit

import (
	"fmt"
	"sort"
	"sync"
)

// DriverFactory builds a FileSystem from configuration.
type DriverFactory func(cfg Config) (FileSystem, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver makes a driver available to New. Drivers call it from
// init, so importing a driver package is enough to enable it.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("filekit: RegisterDriver factory is nil")
	}
	drivers[name] = factory
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the FileSystem named by cfg.Driver.
func New(cfg Config) (FileSystem, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (forgotten import?)", ErrInvalidDriver, cfg.Driver)
	}
	return factory(cfg)
}
