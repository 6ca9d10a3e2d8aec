package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const settingsBucket = "Settings"

// SettingsStore is a per-user string key/value store for preferences such as
// the mail cache limit.
type SettingsStore struct {
	db *bbolt.DB
}

// OpenSettings opens (or creates) the settings database.
func OpenSettings(path string) (*SettingsStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings bucket: %w", err)
	}

	return &SettingsStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SettingsStore) Close() error {
	return s.db.Close()
}

// Get returns the value stored for (userID, key), or ok=false when unset.
func (s *SettingsStore) Get(userID, key string) (value string, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(settingsBucket)).Get(settingsKey(userID, key))
		if v != nil {
			value = string(v)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

// Set stores a value for (userID, key).
func (s *SettingsStore) Set(userID, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put(settingsKey(userID, key), []byte(value))
	})
}

func settingsKey(userID, key string) []byte {
	return []byte(userID + "/" + key)
}
