package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataplane-io/dataplane-engine/pkg/testhelpers"
)

func setupOrdersTable(t *testing.T) *testhelpers.TestDB {
	t.Helper()
	db := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, err := db.Pool.Exec(ctx, `
		DROP TABLE IF EXISTS exec_orders;
		CREATE TABLE exec_orders (
			id INT PRIMARY KEY,
			status TEXT NOT NULL,
			amount NUMERIC NOT NULL
		);
		INSERT INTO exec_orders (id, status, amount) VALUES
			(1, 'shipped', 10.5),
			(2, 'shipped', 99.0),
			(3, 'cancelled', 5.0);
	`)
	require.NoError(t, err)
	return db
}

func TestExecutor_Query_Integration(t *testing.T) {
	db := setupOrdersTable(t)
	ctx := context.Background()

	exec, err := NewExecutor(ctx, db.Config)
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Query(ctx,
		`SELECT id, status FROM exec_orders WHERE status = $1 ORDER BY id`,
		[]any{"shipped"}, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	require.Len(t, result.Columns, 2)
	assert.Equal(t, "id", result.Columns[0].Name)
	assert.Equal(t, "INT4", result.Columns[0].Type)
	assert.Equal(t, "TEXT", result.Columns[1].Type)
	assert.Equal(t, "shipped", result.Rows[0]["status"])
}

func TestExecutor_Query_LimitWrapsStatement(t *testing.T) {
	db := setupOrdersTable(t)
	ctx := context.Background()

	exec, err := NewExecutor(ctx, db.Config)
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Query(ctx, `SELECT id FROM exec_orders ORDER BY id`, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
}

func TestExecutor_Count_Integration(t *testing.T) {
	db := setupOrdersTable(t)
	ctx := context.Background()

	exec, err := NewExecutor(ctx, db.Config)
	require.NoError(t, err)
	defer exec.Close()

	count, err := exec.Count(ctx,
		`SELECT COUNT(*) FROM exec_orders WHERE status != $1`, []any{"cancelled"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
