package cloud

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a Provider from connection settings.
// Implementations register themselves with the registry using Register().
type Constructor func(settings Settings) (Provider, error)

// registry maps provider names to their constructors
var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a provider constructor under a name.
// This is called from init() functions in implementation packages
// (fileblob, httpblob, relay).
//
// Example:
//
//	func init() {
//	    cloud.Register("fileblob", New)
//	}
func Register(name string, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("cloud: Register constructor is nil for provider %s", name))
	}

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("cloud: Register called twice for provider %s", name))
	}

	registry[name] = constructor
}

// Open constructs the named provider with the given settings.
//
// An empty name returns ErrNotConfigured: the engine treats this as "sync
// disabled" rather than an error. An unknown name is a configuration error.
func Open(name string, settings Settings) (Provider, error) {
	if name == "" {
		return nil, ErrNotConfigured
	}

	registryMutex.RLock()
	constructor := registry[name]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("unknown cloud provider %q (registered: %v)", name, Registered())
	}

	return constructor(settings)
}

// Registered returns the names of all registered providers, sorted.
// Useful for error messages and the CLI.
func Registered() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
