package services

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dataplane-io/dataplane-engine/pkg/models"
)

// SeedTable pairs a table's metadata with its schema in a seed fixture.
type SeedTable struct {
	Metadata *models.TableMetadata `yaml:"metadata"`
	Schema   *models.TableSchema   `yaml:"schema"`
}

// SeedFile is the on-disk format for permission and metadata fixtures.
type SeedFile struct {
	Users  []*models.UserPermissions `yaml:"users"`
	Tables []SeedTable               `yaml:"tables"`
}

// ParseSeed decodes a seed fixture.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &seed, nil
}

// LoadSeed reads a fixture file and populates the permission store and
// metadata registry.
func LoadSeed(path string, perms *PermissionStore, registry MetadataRegistry, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return err
	}
	return ApplySeed(seed, perms, registry, logger)
}

// ApplySeed installs a parsed fixture into the stores.
func ApplySeed(seed *SeedFile, perms *PermissionStore, registry MetadataRegistry, logger *zap.Logger) error {
	for _, user := range seed.Users {
		if err := perms.Put(user); err != nil {
			return fmt.Errorf("seed user %s: %w", user.UserID, err)
		}
	}
	for _, table := range seed.Tables {
		if table.Metadata == nil || table.Schema == nil {
			return fmt.Errorf("seed table entry missing metadata or schema")
		}
		if err := registry.AddTable(table.Metadata, table.Schema); err != nil {
			return fmt.Errorf("seed table: %w", err)
		}
	}
	logger.Info("seed data applied",
		zap.Int("users", len(seed.Users)),
		zap.Int("tables", len(seed.Tables)))
	return nil
}
