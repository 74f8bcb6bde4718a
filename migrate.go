package redmap

import (
	"context"
	"crypto/sha1" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"errors"

	"go.uber.org/zap"

	"github.com/kailas-cloud/redmap/internal/db"
	"github.com/kailas-cloud/redmap/internal/metrics"
)

// IndexedModel is the slice of a repository the migrator needs.
type IndexedModel interface {
	IndexName() string
	IndexDefinition() *db.IndexDefinition
}

// Migrator reconciles FT indexes with the current model schemas. Each
// index stores a fingerprint of the schema it was created from; when the
// schema drifts, the index is dropped and recreated.
type Migrator struct {
	store db.Store
	log   *zap.Logger
}

// Run migrates the indexes of the given models. Unchanged indexes are
// left untouched, so running on every startup is cheap.
func (m *Migrator) Run(ctx context.Context, models ...IndexedModel) error {
	for _, model := range models {
		if err := m.migrate(ctx, model); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) migrate(ctx context.Context, model IndexedModel) error {
	def := model.IndexDefinition()
	if err := def.Validate(); err != nil {
		return err
	}

	sum := schemaFingerprint(def)
	fpKey := def.Name + ":hash"

	stored, err := m.store.Get(ctx, fpKey)
	if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}

	exists, err := m.store.IndexExists(ctx, def.Name)
	if err != nil {
		return err
	}

	switch {
	case exists && string(stored) == sum:
		m.log.Debug("index up to date", zap.String("index", def.Name))
		metrics.ObserveMigration(def.Name, "skip")
		return nil
	case exists:
		m.log.Info("index schema drifted, recreating",
			zap.String("index", def.Name))
		if err := m.store.DropIndex(ctx, def.Name); err != nil {
			return err
		}
		metrics.ObserveMigration(def.Name, "recreate")
	default:
		m.log.Info("creating index", zap.String("index", def.Name))
		metrics.ObserveMigration(def.Name, "create")
	}

	if err := m.store.CreateIndex(ctx, def); err != nil {
		return err
	}
	return m.store.Set(ctx, fpKey, []byte(sum))
}

// Drop removes the indexes of the given models along with their
// fingerprints. The indexed documents are left in place.
func (m *Migrator) Drop(ctx context.Context, models ...IndexedModel) error {
	for _, model := range models {
		name := model.IndexName()
		if err := m.store.DropIndex(ctx, name); err != nil &&
			!errors.Is(err, db.ErrIndexNotFound) {
			return err
		}
		if err := m.store.Del(ctx, name+":hash"); err != nil {
			return err
		}
		m.log.Info("dropped index", zap.String("index", name))
	}
	return nil
}

// schemaFingerprint hashes the rendered FT.CREATE schema text.
func schemaFingerprint(def *db.IndexDefinition) string {
	h := sha1.Sum([]byte(def.SchemaText())) //nolint:gosec // fingerprint only
	return hex.EncodeToString(h[:])
}
