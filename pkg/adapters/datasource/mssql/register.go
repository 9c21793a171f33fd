package mssql

import (
	"context"

	"github.com/dataplane-io/dataplane-engine/pkg/adapters/datasource"
	"github.com/dataplane-io/dataplane-engine/pkg/config"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "sqlserver",
			DisplayName: "Microsoft SQL Server",
		},
		Factory: func(ctx context.Context, cfg config.DatasourceConfig) (datasource.QueryExecutor, error) {
			return NewExecutor(ctx, cfg)
		},
	})
}
