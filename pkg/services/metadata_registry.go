package services

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataplane-io/dataplane-engine/pkg/apperrors"
	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

// MetadataRegistry holds table metadata and schemas, answering lookup and
// filtered-listing queries. Read-mostly; refresh is an administrative
// operation, not part of the query path.
type MetadataRegistry interface {
	AddTable(meta *models.TableMetadata, schema *models.TableSchema) error
	GetTableMetadata(table models.TableRef) (*models.TableMetadata, error)
	GetTableSchema(table models.TableRef) (*models.TableSchema, error)
	ListTables(catalog string, filter *models.TableListFilter, pagination *models.PaginationInput) ([]*models.TableMetadata, int, error)
	SearchTables(term string, catalog string) []*models.TableMetadata
	TableExists(table models.TableRef) bool

	ListDatabases(catalog string) []string
	GetTableStatistics(table models.TableRef) (*models.TableStatistics, error)
	GetTablePartitions(table models.TableRef) ([]string, error)
	RefreshTableMetadata(table models.TableRef) error
}

type metadataRegistry struct {
	mu      sync.RWMutex
	tables  map[models.TableRef]*models.TableMetadata
	schemas map[models.TableRef]*models.TableSchema

	defaultPageSize int

	logger *zap.Logger
}

// NewMetadataRegistry creates an empty registry.
func NewMetadataRegistry(defaultPageSize int, logger *zap.Logger) MetadataRegistry {
	if defaultPageSize <= 0 {
		defaultPageSize = 100
	}
	return &metadataRegistry{
		tables:          make(map[models.TableRef]*models.TableMetadata),
		schemas:         make(map[models.TableRef]*models.TableSchema),
		defaultPageSize: defaultPageSize,
		logger:          logger.Named("metadata-registry"),
	}
}

var _ MetadataRegistry = (*metadataRegistry)(nil)

func (r *metadataRegistry) AddTable(meta *models.TableMetadata, schema *models.TableSchema) error {
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("invalid schema for %s: %w", meta.Ref.String(), err)
	}
	if meta.Ref != schema.Table {
		return fmt.Errorf("metadata and schema reference different tables: %s vs %s",
			meta.Ref.String(), schema.Table.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[meta.Ref] = meta
	r.schemas[meta.Ref] = schema
	return nil
}

func (r *metadataRegistry) GetTableMetadata(table models.TableRef) (*models.TableMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", apperrors.ErrNotFound, table.String())
	}
	return meta, nil
}

func (r *metadataRegistry) GetTableSchema(table models.TableRef) (*models.TableSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", apperrors.ErrNotFound, table.String())
	}
	return schema, nil
}

func (r *metadataRegistry) TableExists(table models.TableRef) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[table]
	return ok
}

func (r *metadataRegistry) ListTables(catalog string, filter *models.TableListFilter, pagination *models.PaginationInput) ([]*models.TableMetadata, int, error) {
	var namePattern *regexp.Regexp
	if filter != nil && filter.NamePattern != "" {
		var err error
		namePattern, err = regexp.Compile(filter.NamePattern)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid name pattern: %v", apperrors.ErrInvalidQuery, err)
		}
	}

	r.mu.RLock()
	matched := make([]*models.TableMetadata, 0, len(r.tables))
	for _, meta := range r.tables {
		if catalog != "" && meta.Ref.Catalog != catalog {
			continue
		}
		if filter != nil && !matchesFilter(meta, filter, namePattern) {
			continue
		}
		matched = append(matched, meta)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Ref.String() < matched[j].Ref.String()
	})

	total := len(matched)
	offset, limit := pagination.Normalize(r.defaultPageSize)
	if offset >= total {
		return []*models.TableMetadata{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matchesFilter(meta *models.TableMetadata, filter *models.TableListFilter, namePattern *regexp.Regexp) bool {
	if namePattern != nil && !namePattern.MatchString(meta.Ref.Name) {
		return false
	}
	if filter.TableType != "" && meta.TableType != filter.TableType {
		return false
	}
	if filter.Owner != "" && meta.Owner != filter.Owner {
		return false
	}
	if filter.ModifiedAfter != nil && !meta.LastModified.After(*filter.ModifiedAfter) {
		return false
	}
	if filter.HasData != nil {
		hasData := meta.Statistics != nil && meta.Statistics.RowCount > 0
		if hasData != *filter.HasData {
			return false
		}
	}
	if len(filter.Tags) > 0 && !tagsIntersect(meta.Tags, filter.Tags) {
		return false
	}
	return true
}

// tagsIntersect is a non-disjoint set test: any shared tag matches.
func tagsIntersect(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (r *metadataRegistry) SearchTables(term string, catalog string) []*models.TableMetadata {
	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
	if err != nil {
		return nil
	}

	r.mu.RLock()
	matched := make([]*models.TableMetadata, 0)
	for _, meta := range r.tables {
		if catalog != "" && meta.Ref.Catalog != catalog {
			continue
		}
		if pattern.MatchString(meta.Ref.Name) || pattern.MatchString(meta.Description) {
			matched = append(matched, meta)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Ref.String() < matched[j].Ref.String()
	})
	return matched
}

func (r *metadataRegistry) ListDatabases(catalog string) []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for ref := range r.tables {
		if catalog != "" && ref.Catalog != catalog {
			continue
		}
		seen[ref.Schema] = struct{}{}
	}
	r.mu.RUnlock()

	databases := make([]string, 0, len(seen))
	for db := range seen {
		databases = append(databases, db)
	}
	sort.Strings(databases)
	return databases
}

func (r *metadataRegistry) GetTableStatistics(table models.TableRef) (*models.TableStatistics, error) {
	meta, err := r.GetTableMetadata(table)
	if err != nil {
		return nil, err
	}
	if meta.Statistics == nil {
		return nil, fmt.Errorf("%w: no statistics for table %s", apperrors.ErrNotFound, table.String())
	}
	return meta.Statistics, nil
}

func (r *metadataRegistry) GetTablePartitions(table models.TableRef) ([]string, error) {
	meta, err := r.GetTableMetadata(table)
	if err != nil {
		return nil, err
	}
	return meta.PartitionKeys, nil
}

func (r *metadataRegistry) RefreshTableMetadata(table models.TableRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.tables[table]
	if !ok {
		return fmt.Errorf("%w: table %s", apperrors.ErrNotFound, table.String())
	}
	meta.LastModified = time.Now()
	r.logger.Info("table metadata refreshed", zap.String("table", table.String()))
	return nil
}
