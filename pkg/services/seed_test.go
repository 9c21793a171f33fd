package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

const seedFixture = `
users:
  - user_id: reader
    global_capabilities: [READ]
    max_query_timeout_seconds: 300
    max_result_rows: 1000
    table_permissions:
      - catalog: iceberg
        schema: ecommerce
        table: users
        capabilities: [READ]
        row_filter: "region = 'EU'"
        fields:
          - field: id
            kind: ALLOW
          - field: email
            kind: MASK
            masking_rule: email_mask
tables:
  - metadata:
      ref:
        catalog: iceberg
        schema: ecommerce
        name: users
      table_type: ICEBERG
      owner: data_team
      tags: [pii]
    schema:
      table:
        catalog: iceberg
        schema: ecommerce
        name: users
      columns:
        - name: id
          data_type: BIGINT
        - name: email
          data_type: VARCHAR(100)
          sensitive: true
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedFixture))
	require.NoError(t, err)

	require.Len(t, seed.Users, 1)
	user := seed.Users[0]
	assert.Equal(t, "reader", user.UserID)
	assert.Equal(t, []models.Capability{models.CapabilityRead}, user.GlobalCapabilities)
	assert.Equal(t, 1000, user.MaxResultRows)

	require.Len(t, user.TablePermissions, 1)
	tp := user.TablePermissions[0]
	assert.Equal(t, "region = 'EU'", tp.RowFilter)
	require.Len(t, tp.Fields, 2)
	assert.Equal(t, models.FieldMask, tp.Fields[1].Kind)
	assert.Equal(t, "email_mask", tp.Fields[1].MaskingRule)

	require.Len(t, seed.Tables, 1)
	table := seed.Tables[0]
	assert.Equal(t, "iceberg.ecommerce.users", table.Metadata.Ref.String())
	assert.Equal(t, []string{"id", "email"}, table.Schema.ColumnNames())
	assert.True(t, table.Schema.Columns[1].Sensitive)
}

func TestParseSeed_RejectsMalformedYAML(t *testing.T) {
	_, err := ParseSeed([]byte("users: [unclosed"))
	assert.Error(t, err)
}

func TestApplySeed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	seed, err := ParseSeed([]byte(seedFixture))
	require.NoError(t, err)

	store := NewPermissionStore()
	reg := NewMetadataRegistry(100, logger)
	require.NoError(t, ApplySeed(seed, store, reg, logger))

	assert.NotNil(t, store.Get("reader"))
	assert.True(t, reg.TableExists(models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "users"}))
}

func TestApplySeed_RejectsIncompleteTableEntry(t *testing.T) {
	logger := zaptest.NewLogger(t)
	seed := &SeedFile{Tables: []SeedTable{{Metadata: &models.TableMetadata{}}}}

	err := ApplySeed(seed, NewPermissionStore(), NewMetadataRegistry(100, logger), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing metadata or schema")
}

func TestLoadSeed_RepoFixture(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := NewPermissionStore()
	reg := NewMetadataRegistry(100, logger)

	require.NoError(t, LoadSeed("../../seeds/seed.yaml", store, reg, logger))

	for _, userID := range []string{"admin", "user1", "analyst1"} {
		assert.NotNil(t, store.Get(userID), userID)
	}

	tables, total, err := reg.ListTables("iceberg", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, tables, 5)

	// user1's row filter on orders survives the round trip.
	svc := NewPermissionService(store, logger)
	assert.Equal(t, "user_id = 'user1'",
		svc.RowLevelFilter("user1", models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}))
}

func TestLoadSeed_MissingFile(t *testing.T) {
	logger := zaptest.NewLogger(t)
	err := LoadSeed("does-not-exist.yaml", NewPermissionStore(), NewMetadataRegistry(100, logger), logger)
	assert.Error(t, err)
}
