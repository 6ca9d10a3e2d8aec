package models

import "time"

// SyncWatermark records incremental-sync progress for one (user, account,
// mailbox). LastUID is monotonically non-decreasing: syncs advance it with
// max(previous, highest fetched UID) and never move it backwards.
type SyncWatermark struct {
	UserID        string    `db:"user_id" json:"user_id"`
	AccountCode   string    `db:"account_code" json:"account_code"`
	Mailbox       string    `db:"mailbox" json:"mailbox"`
	LastUID       uint32    `db:"last_uid" json:"last_uid"`
	TotalOnServer uint32    `db:"total_on_server" json:"total_on_server"`
	LastSyncedAt  time.Time `db:"last_synced_at" json:"last_synced_at"`
}
