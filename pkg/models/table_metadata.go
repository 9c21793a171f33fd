package models

import (
	"fmt"
	"time"
)

// TableRef identifies a table by catalog, schema, and table name.
type TableRef struct {
	Catalog string `json:"catalog" yaml:"catalog"`
	Schema  string `json:"schema" yaml:"schema"`
	Name    string `json:"name" yaml:"name"`
}

// String returns the fully qualified name, e.g. "iceberg.ecommerce.users".
func (r TableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", r.Catalog, r.Schema, r.Name)
}

// ColumnInfo describes a single column in a table schema.
type ColumnInfo struct {
	Name      string `json:"name" yaml:"name"`
	DataType  string `json:"data_type" yaml:"data_type"`
	Nullable  bool   `json:"nullable" yaml:"nullable"`
	Precision int    `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty" yaml:"scale,omitempty"`
	Comment   string `json:"comment,omitempty" yaml:"comment,omitempty"`
	Sensitive bool   `json:"sensitive" yaml:"sensitive"`
}

// TableSchema is the ordered column layout of a table.
type TableSchema struct {
	Table         TableRef     `json:"table" yaml:"table"`
	Columns       []ColumnInfo `json:"columns" yaml:"columns"`
	PrimaryKeys   []string     `json:"primary_keys,omitempty" yaml:"primary_keys,omitempty"`
	PartitionKeys []string     `json:"partition_keys,omitempty" yaml:"partition_keys,omitempty"`
}

// Validate checks the schema invariant that column names are unique.
func (s *TableSchema) Validate() error {
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if seen[col.Name] {
			return fmt.Errorf("duplicate column %q in schema for %s", col.Name, s.Table)
		}
		seen[col.Name] = true
	}
	return nil
}

// ColumnNames returns the column names in schema order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// TableStatistics holds advisory table statistics. Never required for
// correctness; refreshed by an external analyze process.
type TableStatistics struct {
	RowCount       int64      `json:"row_count" yaml:"row_count"`
	DataSizeBytes  int64      `json:"data_size_bytes" yaml:"data_size_bytes"`
	FileCount      int        `json:"file_count" yaml:"file_count"`
	PartitionCount int        `json:"partition_count" yaml:"partition_count"`
	LastAnalyzed   *time.Time `json:"last_analyzed,omitempty" yaml:"last_analyzed,omitempty"`
}

// TableMetadata describes a registered table. Created and refreshed by an
// external ingestion process; read-only to the query engine.
type TableMetadata struct {
	Ref           TableRef         `json:"ref" yaml:"ref"`
	TableType     string           `json:"table_type" yaml:"table_type"`
	Location      string           `json:"location,omitempty" yaml:"location,omitempty"`
	PartitionKeys []string         `json:"partition_keys,omitempty" yaml:"partition_keys,omitempty"`
	Owner         string           `json:"owner,omitempty" yaml:"owner,omitempty"`
	Description   string           `json:"description,omitempty" yaml:"description,omitempty"`
	Tags          []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt     time.Time        `json:"created_at" yaml:"created_at"`
	LastModified  time.Time        `json:"last_modified" yaml:"last_modified"`
	Statistics    *TableStatistics `json:"statistics,omitempty" yaml:"statistics,omitempty"`
}

// TableListFilter narrows ListTables results. Zero-valued fields match all.
type TableListFilter struct {
	NamePattern   string     `json:"name_pattern,omitempty"`
	TableType     string     `json:"table_type,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	ModifiedAfter *time.Time `json:"modified_after,omitempty"`
	HasData       *bool      `json:"has_data,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}
