package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"mailbridge/models"
	"mailbridge/utils"
)

// WatermarkStore persists the incremental-sync high-water mark per
// (user, account, mailbox). Rows are created on first successful sync and
// never deleted by the sync engine.
type WatermarkStore struct {
	db *sqlx.DB
}

// NewWatermarkStore creates a watermark store over an initialized database.
func NewWatermarkStore(db *sqlx.DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// Get returns the stored watermark, or a zero-valued watermark when the
// (user, account, mailbox) has never synced.
func (s *WatermarkStore) Get(ctx context.Context, userID, accountCode, mailbox string) (*models.SyncWatermark, error) {
	var wm models.SyncWatermark
	err := s.db.GetContext(ctx, &wm, `
		SELECT user_id, account_code, mailbox, last_uid, total_on_server, last_synced_at
		FROM sync_watermarks
		WHERE user_id = ? AND account_code = ? AND mailbox = ?`,
		userID, accountCode, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SyncWatermark{
			UserID:      userID,
			AccountCode: accountCode,
			Mailbox:     mailbox,
		}, nil
	}
	if err != nil {
		return nil, utils.PersistenceError("failed to read sync watermark", err)
	}
	return &wm, nil
}

// Advance upserts the watermark. last_uid only ever moves forward: the
// stored value is max(existing, supplied), so a stale or concurrent sync can
// never regress it.
func (s *WatermarkStore) Advance(ctx context.Context, wm *models.SyncWatermark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_watermarks (
			user_id, account_code, mailbox, last_uid, total_on_server, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, account_code, mailbox) DO UPDATE SET
			last_uid = MAX(sync_watermarks.last_uid, excluded.last_uid),
			total_on_server = excluded.total_on_server,
			last_synced_at = excluded.last_synced_at`,
		wm.UserID, wm.AccountCode, wm.Mailbox,
		wm.LastUID, wm.TotalOnServer, wm.LastSyncedAt.UTC(),
	)
	if err != nil {
		return utils.PersistenceError("failed to advance sync watermark", err)
	}
	return nil
}
