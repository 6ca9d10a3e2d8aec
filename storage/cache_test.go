package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbridge/models"
)

func cachedMail(uid uint32, date time.Time) models.Mail {
	text := fmt.Sprintf("body of %d", uid)
	return models.Mail{
		AccountCode: "work",
		Mailbox:     "INBOX",
		UID:         uid,
		Subject:     fmt.Sprintf("mail %d", uid),
		TextBody:    &text,
		Date:        date,
		From:        []models.Address{{Name: "Alice", Email: "alice@example.com"}},
		To:          []models.Address{{Email: "bob@example.com"}},
	}
}

func TestUpsertBatchRoundTrip(t *testing.T) {
	store := NewCacheStore(testDB(t))
	ctx := context.Background()

	m := cachedMail(7, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	m.IsRead = true
	m.Labels = []string{"Work"}
	m.Attachments = []models.Attachment{{Filename: "a.pdf", ContentType: "application/pdf", Size: 12}}
	m.HasAttachments = true

	count, err := store.UpsertBatch(ctx, "u1", models.ProtocolIMAP, []models.Mail{m}, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	mails, err := store.GetCachedMails(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	require.Len(t, mails, 1)

	got := mails[0]
	assert.Equal(t, uint32(7), got.UID)
	assert.Equal(t, "mail 7", got.Subject)
	assert.True(t, got.IsRead)
	assert.Equal(t, []string{"Work"}, got.Labels)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "a.pdf", got.Attachments[0].Filename)
	require.NotNil(t, got.TextBody)
	require.Len(t, got.From, 1)
	assert.Equal(t, "alice@example.com", got.From[0].Email)
}

func TestUpsertBatchIMAPFlagsAuthoritative(t *testing.T) {
	store := NewCacheStore(testDB(t))
	ctx := context.Background()
	date := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	m := cachedMail(1, date)
	m.IsRead = true
	m.IsStarred = true
	_, err := store.UpsertBatch(ctx, "u1", models.ProtocolIMAP, []models.Mail{m}, 100)
	require.NoError(t, err)

	// Server now reports the message unflagged; the cache must follow.
	m.IsRead = false
	m.IsStarred = false
	_, err = store.UpsertBatch(ctx, "u1", models.ProtocolIMAP, []models.Mail{m}, 100)
	require.NoError(t, err)

	mails, err := store.GetCachedMails(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.False(t, mails[0].IsRead)
	assert.False(t, mails[0].IsStarred)
}

func TestUpsertBatchPOP3PreservesFlags(t *testing.T) {
	db := testDB(t)
	store := NewCacheStore(db)
	ctx := context.Background()
	date := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	m := cachedMail(42, date)
	_, err := store.UpsertBatch(ctx, "u1", models.ProtocolPOP3, []models.Mail{m}, 100)
	require.NoError(t, err)

	// The user marks the mail read and starred locally.
	_, err = db.Exec(`UPDATE mail_cache SET is_read = 1, is_starred = 1 WHERE uid = 42`)
	require.NoError(t, err)

	// A POP3 re-sync reports both as false; cached values must survive,
	// while content refreshes.
	m.Subject = "updated subject"
	m.IsRead = false
	m.IsStarred = false
	_, err = store.UpsertBatch(ctx, "u1", models.ProtocolPOP3, []models.Mail{m}, 100)
	require.NoError(t, err)

	mails, err := store.GetCachedMails(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.True(t, mails[0].IsRead)
	assert.True(t, mails[0].IsStarred)
	assert.Equal(t, "updated subject", mails[0].Subject)
}

func TestUpsertBatchTrimsToCacheLimit(t *testing.T) {
	store := NewCacheStore(testDB(t))
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mails := make([]models.Mail, 0, 8)
	for i := 0; i < 8; i++ {
		mails = append(mails, cachedMail(uint32(i+1), base.Add(time.Duration(i)*time.Hour)))
	}

	_, err := store.UpsertBatch(ctx, "u1", models.ProtocolIMAP, mails, 5)
	require.NoError(t, err)

	count, err := store.CountForAccount(ctx, "u1", "work")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// The oldest three are gone; the newest survive.
	cached, err := store.GetCachedMails(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	require.Len(t, cached, 5)
	assert.Equal(t, uint32(8), cached[0].UID)
	assert.Equal(t, uint32(4), cached[4].UID)
}

func TestGetCachedMailsAggregatesAccounts(t *testing.T) {
	store := NewCacheStore(testDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	work := cachedMail(1, base.Add(time.Hour))
	personal := cachedMail(1, base.Add(2*time.Hour))
	personal.AccountCode = "personal"

	_, err := store.UpsertBatch(ctx, "u1", models.ProtocolIMAP, []models.Mail{work}, 100)
	require.NoError(t, err)
	_, err = store.UpsertBatch(ctx, "u1", models.ProtocolIMAP, []models.Mail{personal}, 100)
	require.NoError(t, err)

	// Another user's mail never leaks in.
	other := cachedMail(9, base)
	_, err = store.UpsertBatch(ctx, "u2", models.ProtocolIMAP, []models.Mail{other}, 100)
	require.NoError(t, err)

	all, err := store.GetCachedMails(ctx, "u1", "", "INBOX")
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Date descending across accounts.
	assert.Equal(t, "personal", all[0].AccountCode)
	assert.Equal(t, "work", all[1].AccountCode)

	workOnly, err := store.GetCachedMails(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	require.Len(t, workOnly, 1)
}

func TestUpsertBatchEmpty(t *testing.T) {
	store := NewCacheStore(testDB(t))
	count, err := store.UpsertBatch(context.Background(), "u1", models.ProtocolIMAP, nil, 5)
	require.NoError(t, err)
	assert.Zero(t, count)
}
