package backend

import (
	"fmt"
	"sort"
	"sync"
)

// BackendConfigConstructor is a function that creates a backend from BackendConfig
type BackendConfigConstructor func(config BackendConfig) (Backend, error)

// Registry holds registered backend constructors
type Registry struct {
	mu               sync.RWMutex
	typeConstructors map[string]BackendConfigConstructor
}

var globalRegistry = &Registry{
	typeConstructors: make(map[string]BackendConfigConstructor),
}

// RegisterType registers a backend constructor for a config type
func RegisterType(backendType string, constructor BackendConfigConstructor) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.typeConstructors[backendType] = constructor
}

// GetTypeConstructor returns the constructor for a backend type
func GetTypeConstructor(backendType string) (BackendConfigConstructor, error) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	constructor, ok := globalRegistry.typeConstructors[backendType]
	if !ok {
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
	return constructor, nil
}

// RegisteredTypes returns the sorted list of registered backend types
func RegisteredTypes() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	types := make([]string, 0, len(globalRegistry.typeConstructors))
	for t := range globalRegistry.typeConstructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New creates a backend from its configuration using the registered constructor
func New(config BackendConfig) (Backend, error) {
	constructor, err := GetTypeConstructor(config.Type)
	if err != nil {
		return nil, err
	}
	return constructor(config)
}
