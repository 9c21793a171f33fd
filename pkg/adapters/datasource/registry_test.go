package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataplane-io/dataplane-engine/pkg/config"
)

type stubExecutor struct{}

func (stubExecutor) Query(context.Context, string, []any, int) (*QueryExecutionResult, error) {
	return &QueryExecutionResult{}, nil
}
func (stubExecutor) Count(context.Context, string, []any) (int, error) { return 0, nil }
func (stubExecutor) Close() error                                      { return nil }

func TestRegister_MakesAdapterAvailable(t *testing.T) {
	Register(AdapterRegistration{
		Info: AdapterInfo{Type: "stub", DisplayName: "Stub"},
		Factory: func(ctx context.Context, cfg config.DatasourceConfig) (QueryExecutor, error) {
			return stubExecutor{}, nil
		},
	})

	assert.True(t, IsRegistered("stub"))

	exec, err := NewExecutor(context.Background(), config.DatasourceConfig{Type: "stub"})
	require.NoError(t, err)
	assert.NotNil(t, exec)

	var found bool
	for _, info := range RegisteredAdapters() {
		if info.Type == "stub" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNewExecutor_UnknownTypeFails(t *testing.T) {
	_, err := NewExecutor(context.Background(), config.DatasourceConfig{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
