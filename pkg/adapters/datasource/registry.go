package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/dataplane-io/dataplane-engine/pkg/config"
)

// AdapterInfo describes a registered adapter type.
type AdapterInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

// AdapterRegistration pairs adapter info with its executor factory.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, cfg config.DatasourceConfig) (QueryExecutor, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapter types.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// IsRegistered checks whether an adapter type is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}

// NewExecutor creates a QueryExecutor for the configured datasource type.
func NewExecutor(ctx context.Context, cfg config.DatasourceConfig) (QueryExecutor, error) {
	registryMu.RLock()
	reg, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("datasource type %q is not registered", cfg.Type)
	}
	return reg.Factory(ctx, cfg)
}
