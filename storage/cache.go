package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbridge/models"
	"mailbridge/utils"
)

// CacheStore persists canonical mail records. The upsert key is
// (user, account, mailbox, uid); flag merging depends on the source
// protocol, and each batch is trimmed to the retention cap in the same
// transaction.
type CacheStore struct {
	db *sqlx.DB
}

// NewCacheStore creates a cache store over an initialized database.
func NewCacheStore(db *sqlx.DB) *CacheStore {
	return &CacheStore{db: db}
}

// IMAP fetches carry authoritative server flags: conflicts overwrite the
// cached is_read/is_starred. POP3 cannot report flags, so conflicts keep
// whatever the cache already holds for them.
const upsertCacheQuery = `
	INSERT INTO mail_cache (
		user_id, account_code, mailbox, uid, message_id,
		from_addrs, to_addrs, cc_addrs, bcc_addrs,
		subject, text_body, html_body, preview, date,
		is_read, is_starred, has_attachments, attachments, labels,
		updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, account_code, mailbox, uid) DO UPDATE SET
		message_id = excluded.message_id,
		from_addrs = excluded.from_addrs,
		to_addrs = excluded.to_addrs,
		cc_addrs = excluded.cc_addrs,
		bcc_addrs = excluded.bcc_addrs,
		subject = excluded.subject,
		text_body = excluded.text_body,
		html_body = excluded.html_body,
		preview = excluded.preview,
		date = excluded.date,
		is_read = %s,
		is_starred = %s,
		has_attachments = excluded.has_attachments,
		attachments = excluded.attachments,
		labels = excluded.labels,
		updated_at = excluded.updated_at`

// UpsertBatch stores a batch of fetched records for userID and trims the
// (user, account) partition down to the newest cacheLimit entries by message
// date. Upserts and trim commit atomically or roll back together. Returns
// the number of records written.
func (s *CacheStore) UpsertBatch(ctx context.Context, userID string, source models.Protocol, mails []models.Mail, cacheLimit int) (int, error) {
	if len(mails) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(upsertCacheQuery, "excluded.is_read", "excluded.is_starred")
	if source == models.ProtocolPOP3 {
		query = fmt.Sprintf(upsertCacheQuery, "mail_cache.is_read", "mail_cache.is_starred")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, utils.PersistenceError("failed to begin cache transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, utils.PersistenceError("failed to prepare cache upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	accounts := make(map[string]struct{})

	for _, m := range mails {
		enc, err := encodeMailJSON(&m)
		if err != nil {
			return 0, utils.PersistenceError("failed to encode mail record", err)
		}

		_, err = stmt.ExecContext(ctx,
			userID, m.AccountCode, m.Mailbox, m.UID, m.MessageID,
			enc.from, enc.to, enc.cc, enc.bcc,
			m.Subject, m.TextBody, m.HTMLBody, m.Preview, m.Date.UTC(),
			m.IsRead, m.IsStarred, m.HasAttachments, enc.attachments, enc.labels,
			now,
		)
		if err != nil {
			return 0, utils.PersistenceError(
				fmt.Sprintf("failed to cache mail uid=%d", m.UID), err)
		}

		accounts[m.AccountCode] = struct{}{}
	}

	for code := range accounts {
		if err := trimAccount(ctx, tx, userID, code, cacheLimit); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.PersistenceError("failed to commit cache transaction", err)
	}

	return len(mails), nil
}

// trimAccount deletes the oldest-by-date entries of one (user, account)
// partition beyond cacheLimit.
func trimAccount(ctx context.Context, tx *sqlx.Tx, userID, accountCode string, cacheLimit int) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM mail_cache
		WHERE user_id = ? AND account_code = ? AND id NOT IN (
			SELECT id FROM mail_cache
			WHERE user_id = ? AND account_code = ?
			ORDER BY date DESC, uid DESC
			LIMIT ?
		)`,
		userID, accountCode, userID, accountCode, cacheLimit)
	if err != nil {
		return utils.PersistenceError(
			fmt.Sprintf("failed to trim cache for account %q", accountCode), err)
	}
	return nil
}

// GetCachedMails returns cached records ordered by date descending. An empty
// accountCode aggregates across all of the user's accounts; an empty mailbox
// spans all mailboxes.
func (s *CacheStore) GetCachedMails(ctx context.Context, userID, accountCode, mailbox string) ([]models.Mail, error) {
	query := `SELECT * FROM mail_cache WHERE user_id = ?`
	args := []interface{}{userID}

	if accountCode != "" {
		query += ` AND account_code = ?`
		args = append(args, accountCode)
	}
	if mailbox != "" {
		query += ` AND mailbox = ?`
		args = append(args, mailbox)
	}
	query += ` ORDER BY date DESC, uid DESC`

	var rows []cacheRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.PersistenceError("failed to read mail cache", err)
	}

	mails := make([]models.Mail, 0, len(rows))
	for _, row := range rows {
		mail, err := row.toMail()
		if err != nil {
			return nil, utils.PersistenceError("failed to decode cached mail", err)
		}
		mails = append(mails, mail)
	}
	return mails, nil
}

// CountForAccount returns the number of cached entries for one
// (user, account) partition.
func (s *CacheStore) CountForAccount(ctx context.Context, userID, accountCode string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM mail_cache WHERE user_id = ? AND account_code = ?`,
		userID, accountCode)
	if err != nil {
		return 0, utils.PersistenceError("failed to count mail cache", err)
	}
	return count, nil
}

type cacheRow struct {
	ID             int64     `db:"id"`
	UserID         string    `db:"user_id"`
	AccountCode    string    `db:"account_code"`
	Mailbox        string    `db:"mailbox"`
	UID            uint32    `db:"uid"`
	MessageID      string    `db:"message_id"`
	FromAddrs      string    `db:"from_addrs"`
	ToAddrs        string    `db:"to_addrs"`
	CcAddrs        string    `db:"cc_addrs"`
	BccAddrs       string    `db:"bcc_addrs"`
	Subject        string    `db:"subject"`
	TextBody       *string   `db:"text_body"`
	HTMLBody       *string   `db:"html_body"`
	Preview        string    `db:"preview"`
	Date           time.Time `db:"date"`
	IsRead         bool      `db:"is_read"`
	IsStarred      bool      `db:"is_starred"`
	HasAttachments bool      `db:"has_attachments"`
	Attachments    string    `db:"attachments"`
	Labels         string    `db:"labels"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *cacheRow) toMail() (models.Mail, error) {
	mail := models.Mail{
		AccountCode:    r.AccountCode,
		Mailbox:        r.Mailbox,
		UID:            r.UID,
		MessageID:      r.MessageID,
		Subject:        r.Subject,
		TextBody:       r.TextBody,
		HTMLBody:       r.HTMLBody,
		Preview:        r.Preview,
		Date:           r.Date,
		IsRead:         r.IsRead,
		IsStarred:      r.IsStarred,
		HasAttachments: r.HasAttachments,
	}

	for _, pair := range []struct {
		raw  string
		dest interface{}
	}{
		{r.FromAddrs, &mail.From},
		{r.ToAddrs, &mail.To},
		{r.CcAddrs, &mail.Cc},
		{r.BccAddrs, &mail.Bcc},
		{r.Attachments, &mail.Attachments},
		{r.Labels, &mail.Labels},
	} {
		if pair.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return models.Mail{}, err
		}
	}

	return mail, nil
}

// mailJSON holds the JSON-encoded list columns of one cache row.
type mailJSON struct {
	from, to, cc, bcc string
	attachments       string
	labels            string
}

func encodeMailJSON(m *models.Mail) (mailJSON, error) {
	var enc mailJSON
	var err error
	if enc.from, err = marshalJSON(m.From); err != nil {
		return enc, err
	}
	if enc.to, err = marshalJSON(m.To); err != nil {
		return enc, err
	}
	if enc.cc, err = marshalJSON(m.Cc); err != nil {
		return enc, err
	}
	if enc.bcc, err = marshalJSON(m.Bcc); err != nil {
		return enc, err
	}
	if enc.attachments, err = marshalJSON(m.Attachments); err != nil {
		return enc, err
	}
	if enc.labels, err = marshalJSON(m.Labels); err != nil {
		return enc, err
	}
	return enc, nil
}

// marshalJSON encodes nil slices as "[]" so cached columns stay non-null.
func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}
