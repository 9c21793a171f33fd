package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

func TestBuildCacheKey_FieldOrderInsensitive(t *testing.T) {
	ref := models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "users"}

	a := BuildCacheKey("user1", ref, nil, []string{"id", "username", "email"}, nil, 0, 100)
	b := BuildCacheKey("user1", ref, nil, []string{"email", "id", "username"}, nil, 0, 100)
	assert.Equal(t, a, b)
}

func TestBuildCacheKey_ConditionOrderInsensitive(t *testing.T) {
	ref := models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}

	f1 := &models.TableFilter{Conditions: []models.FilterCondition{
		{Field: "status", Operator: models.OpEQ, Value: "shipped"},
		{Field: "amount", Operator: models.OpGT, Value: 10},
	}}
	f2 := &models.TableFilter{Conditions: []models.FilterCondition{
		{Field: "amount", Operator: models.OpGT, Value: 10},
		{Field: "status", Operator: models.OpEQ, Value: "shipped"},
	}}

	a := BuildCacheKey("user1", ref, f1, []string{"id"}, nil, 0, 100)
	b := BuildCacheKey("user1", ref, f2, []string{"id"}, nil, 0, 100)
	assert.Equal(t, a, b)
}

func TestBuildCacheKey_InValuesOrderInsensitive(t *testing.T) {
	ref := models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}

	f1 := &models.TableFilter{Conditions: []models.FilterCondition{
		{Field: "status", Operator: models.OpIn, Values: []any{"a", "b"}},
	}}
	f2 := &models.TableFilter{Conditions: []models.FilterCondition{
		{Field: "status", Operator: models.OpIn, Values: []any{"b", "a"}},
	}}

	a := BuildCacheKey("user1", ref, f1, []string{"id"}, nil, 0, 100)
	b := BuildCacheKey("user1", ref, f2, []string{"id"}, nil, 0, 100)
	assert.Equal(t, a, b)
}

func TestBuildCacheKey_OrderByOrderMatters(t *testing.T) {
	ref := models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}

	o1 := []models.OrderByInput{{Field: "a"}, {Field: "b"}}
	o2 := []models.OrderByInput{{Field: "b"}, {Field: "a"}}

	a := BuildCacheKey("user1", ref, nil, []string{"id"}, o1, 0, 100)
	b := BuildCacheKey("user1", ref, nil, []string{"id"}, o2, 0, 100)
	assert.NotEqual(t, a, b)
}

func TestBuildCacheKey_DifferentInputsDiffer(t *testing.T) {
	ref := models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}

	base := BuildCacheKey("user1", ref, nil, []string{"id"}, nil, 0, 100)
	assert.NotEqual(t, base, BuildCacheKey("user2", ref, nil, []string{"id"}, nil, 0, 100))
	assert.NotEqual(t, base, BuildCacheKey("user1", ref, nil, []string{"id"}, nil, 10, 100))
	assert.NotEqual(t, base, BuildCacheKey("user1", ref, nil, []string{"id"}, nil, 0, 50))
	assert.NotEqual(t, base, BuildCacheKey("user1", ref, nil, []string{"status"}, nil, 0, 100))
}

func TestBuildCacheKey_CarriesUserPrefix(t *testing.T) {
	ref := models.TableRef{Catalog: "iceberg", Schema: "ecommerce", Name: "orders"}
	key := BuildCacheKey("user1", ref, nil, []string{"id"}, nil, 0, 100)
	assert.True(t, strings.HasPrefix(key, UserKeyPrefix("user1")))
}
