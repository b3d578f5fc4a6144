package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/tidwall/buntdb"
)

type TrackerConfig struct {
	Context context.Context
	Logger  logger.Logger
	Dir     string
}

// Tracker is the local state database. The migrator uses it to remember
// which schema fingerprint was last applied to each database and model so
// unchanged models can be skipped.
type Tracker struct {
	ctx    context.Context
	logger logger.Logger
	db     *buntdb.DB
	once   sync.Once
}

// Close will close the tracker and the underlying database.
func (t *Tracker) Close() error {
	t.logger.Debug("closing")
	t.once.Do(func() {
		t.db.Shrink()
		t.db.Close()
	})
	t.logger.Debug("closed")
	return nil
}

// GetKey will return the value of the key from the database.
func (t *Tracker) GetKey(key string) (bool, string, error) {
	var value string
	var found bool
	err := t.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key, false)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value = val
		found = true
		return nil
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to get key: %w", err)
	}
	return found, value, nil
}

// SetKey will set the key to the value in the database. A zero expires
// keeps the key forever.
func (t *Tracker) SetKey(key, value string, expires time.Duration) error {
	err := t.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if expires > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: expires}
		}
		_, _, err := tx.Set(key, value, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// migrationKey builds the key for a database and model pair. The database
// url is hashed so credentials never land in the state file.
func migrationKey(urlString string, model string) string {
	return fmt.Sprintf("migration:%s:%s", util.Hash(urlString), model)
}

// MigrationFingerprint returns the schema fingerprint last applied to the
// model in the given database, if any.
func (t *Tracker) MigrationFingerprint(urlString string, model string) (bool, string, error) {
	return t.GetKey(migrationKey(urlString, model))
}

// SetMigrationFingerprint records the schema fingerprint applied to the
// model in the given database.
func (t *Tracker) SetMigrationFingerprint(urlString string, model string, fingerprint string) error {
	return t.SetKey(migrationKey(urlString, model), fingerprint, 0)
}

// TrackerFilenameFromDir returns the filename for the tracker database based on a specific directory.
func TrackerFilenameFromDir(dir string) string {
	return filepath.Join(dir, "crud6-data.db")
}

// NewTracker will create a new tracker with the given configuration.
func NewTracker(config TrackerConfig) (*Tracker, error) {
	db, err := buntdb.Open(TrackerFilenameFromDir(config.Dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	var dbcfg buntdb.Config
	if err := db.ReadConfig(&dbcfg); err != nil {
		return nil, fmt.Errorf("failed to read db config: %w", err)
	}
	dbcfg.SyncPolicy = buntdb.EverySecond
	if err := db.SetConfig(dbcfg); err != nil {
		return nil, fmt.Errorf("failed to set db config: %w", err)
	}
	return &Tracker{
		ctx:    config.Context,
		logger: config.Logger.WithPrefix("[tracker]"),
		db:     db,
	}, nil
}
