package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gorm.io/gorm"
)

// Meta keys persisted across every collection, per spec.md §6.
const (
	KeyLastSync         = "last_sync"
	KeyGlobalSyncID     = "global_sync_id"
	KeyCollectionSyncID = "collection_sync_id"
	KeyGlobalState      = "global_state"
	KeyHistoryHWM       = "history_deleted_hwm"
)

// metaEncryptionKey is the package-level AES-256 key used by EncryptedValue.
// Unset (nil) leaves EncryptedValue operating as plain text, which is fine
// for meta keys that carry no secret (last_sync, sync ids); global_state
// may carry key material from the embedding sync manager and should only
// be persisted after InitMetaEncryption has been called.
var metaEncryptionKey []byte

// InitMetaEncryption sets the AES-256 key used to encrypt EncryptedValue
// fields (currently only global_state) at rest. key must be exactly 32
// bytes. Call once at startup, before the first MetaStore.Set(KeyGlobalState, ...).
func InitMetaEncryption(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("storage: meta encryption key must be 32 bytes, got %d", len(key))
	}
	metaEncryptionKey = append([]byte(nil), key...)
	return nil
}

// EncryptedValue is a string transparently encrypted with AES-256-GCM
// before being written to the meta table, mirroring the teacher's
// EncryptedString. An empty value is stored as empty without encryption.
type EncryptedValue string

func (e EncryptedValue) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	if metaEncryptionKey == nil {
		return nil, errors.New("storage: meta encryption key not initialized")
	}
	block, err := aes.NewCipher(metaEncryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(e), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *EncryptedValue) Scan(value interface{}) error {
	if value == nil {
		*e = ""
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("storage: EncryptedValue.Scan: expected string, got %T", value)
	}
	if str == "" {
		*e = ""
		return nil
	}
	if metaEncryptionKey == nil {
		return errors.New("storage: meta encryption key not initialized")
	}
	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(metaEncryptionKey)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	if len(data) < gcm.NonceSize() {
		return errors.New("storage: encrypted meta value too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}
	*e = EncryptedValue(plain)
	return nil
}

// metaRow mirrors the teacher's Setting model: a string-keyed row with no
// base/UUID identity, since the key itself is the primary key.
type metaRow struct {
	Key   string `gorm:"primaryKey"`
	Value EncryptedValue
}

func (metaRow) TableName() string { return "sync_meta" }

// MetaStore is the key→value persistence for last-sync timestamps,
// sync-association ids, the engine-opaque global_state blob, and the
// history deletion high-water mark.
type MetaStore struct {
	db *gorm.DB
}

func NewMetaStore(db *DB) *MetaStore {
	return &MetaStore{db: db.Gorm}
}

// Get returns the raw string value for key, or "" if unset.
func (m *MetaStore) Get(ctx context.Context, key string) (string, error) {
	var row metaRow
	err := m.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: meta get %q: %w", key, err)
	}
	return string(row.Value), nil
}

// Set upserts key to value.
func (m *MetaStore) Set(ctx context.Context, key, value string) error {
	row := metaRow{Key: key, Value: EncryptedValue(value)}
	err := m.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("storage: meta set %q: %w", key, err)
	}
	return nil
}

// Delete removes key if present.
func (m *MetaStore) Delete(ctx context.Context, key string) error {
	return m.db.WithContext(ctx).Delete(&metaRow{}, "key = ?", key).Error
}

// GetLastSync returns the persisted last-sync timestamp in ms since
// epoch, or 0 if never synced.
func (m *MetaStore) GetLastSync(ctx context.Context) (int64, error) {
	v, err := m.Get(ctx, KeyLastSync)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// SetLastSync persists the new last-sync timestamp. Per spec.md §7, this
// must only be called after incoming has been staged and before outgoing
// is uploaded — advancing it earlier risks re-downloading our own writes
// if the sync is interrupted before merge commits; advancing it later
// risks re-downloading server state we already merged.
func (m *MetaStore) SetLastSync(ctx context.Context, ms int64) error {
	return m.Set(ctx, KeyLastSync, strconv.FormatInt(ms, 10))
}

// GetHistoryHWM returns the history deletion high-water mark.
func (m *MetaStore) GetHistoryHWM(ctx context.Context) (int64, error) {
	v, err := m.Get(ctx, KeyHistoryHWM)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// SetHistoryHWM persists a new deletion high-water mark.
func (m *MetaStore) SetHistoryHWM(ctx context.Context, ms int64) error {
	return m.Set(ctx, KeyHistoryHWM, strconv.FormatInt(ms, 10))
}

// ResetSyncIDs clears (or replaces) the global/collection sync-association
// ids and resets last_sync to 0, per the bookmarks Reset operation
// (spec.md §4.2) generalized to any collection.
func (m *MetaStore) ResetSyncIDs(ctx context.Context, newGlobal, newCollection string) error {
	if err := m.Set(ctx, KeyGlobalSyncID, newGlobal); err != nil {
		return err
	}
	if err := m.Set(ctx, KeyCollectionSyncID, newCollection); err != nil {
		return err
	}
	return m.SetLastSync(ctx, 0)
}

// MigrateLegacyGlobalState migrates the legacy single global_state key (a
// blob that used to carry both global and per-collection sync ids) to the
// new per-collection sync-id keys plus a fresh global_state, per spec.md
// §6. It is a no-op if global/collection sync ids are already present.
func (m *MetaStore) MigrateLegacyGlobalState(ctx context.Context, parse func(legacy string) (globalID, collectionID, newGlobalState string, err error)) error {
	existingGlobal, err := m.Get(ctx, KeyGlobalSyncID)
	if err != nil {
		return err
	}
	if existingGlobal != "" {
		return nil
	}
	legacy, err := m.Get(ctx, KeyGlobalState)
	if err != nil || legacy == "" {
		return err
	}
	globalID, collectionID, newState, err := parse(legacy)
	if err != nil {
		return fmt.Errorf("storage: migrate legacy global_state: %w", err)
	}
	if err := m.Set(ctx, KeyGlobalSyncID, globalID); err != nil {
		return err
	}
	if err := m.Set(ctx, KeyCollectionSyncID, collectionID); err != nil {
		return err
	}
	return m.Set(ctx, KeyGlobalState, newState)
}
