package postgres

import (
	"context"

	"github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource"
	"github.com/dataplane-io/dataplane-engine/pkg/config"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
		},
		Factory: func(ctx context.Context, cfg config.DatasourceConfig) (datasource.QueryExecutor, error) {
			return NewExecutor(ctx, cfg)
		},
	})
}
