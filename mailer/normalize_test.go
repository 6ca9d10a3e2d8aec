package mailer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func sampleMultipart() []byte {
	return rawMessage(
		"From: Alice Example <alice@example.com>",
		"To: Bob <bob@example.com>, carol@example.com",
		"Cc: dave@example.com",
		"Subject: Quarterly report",
		"Date: Tue, 10 Mar 2026 10:00:00 +0000",
		"Message-ID: <report-123@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Here is the report you asked for.",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Here is the <strong>report</strong> you asked for.</p>",
		"--BOUNDARY",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"%PDF-1.4 fake content",
		"--BOUNDARY--",
	)
}

func TestNormalizeMultipart(t *testing.T) {
	receivedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m, err := Normalize(sampleMultipart(), receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "Quarterly report", m.Subject)
	assert.Equal(t, "<report-123@example.com>", m.MessageID)
	assert.Equal(t, 2026, m.Date.Year())
	assert.Equal(t, time.March, m.Date.Month())

	require.Len(t, m.From, 1)
	assert.Equal(t, "Alice Example", m.From[0].Name)
	assert.Equal(t, "alice@example.com", m.From[0].Email)

	// Both To addresses flattened into one ordered list.
	require.Len(t, m.To, 2)
	assert.Equal(t, "bob@example.com", m.To[0].Email)
	assert.Equal(t, "carol@example.com", m.To[1].Email)
	require.Len(t, m.Cc, 1)

	require.NotNil(t, m.TextBody)
	assert.Contains(t, *m.TextBody, "Here is the report")
	require.NotNil(t, m.HTMLBody)
	assert.Contains(t, *m.HTMLBody, "<strong>report</strong>")

	require.True(t, m.HasAttachments)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "report.pdf", m.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", m.Attachments[0].ContentType)
	assert.Greater(t, m.Attachments[0].Size, int64(0))

	assert.Contains(t, m.Preview, "Here is the report")
	assert.False(t, m.IsRead)
	assert.False(t, m.IsStarred)
}

func TestNormalizeDefaults(t *testing.T) {
	receivedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	raw := rawMessage(
		"From: alice@example.com",
		"Content-Type: text/plain",
		"",
		"No subject, no date.",
	)

	m, err := Normalize(raw, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "(no subject)", m.Subject)
	assert.Equal(t, receivedAt, m.Date)
	assert.Empty(t, m.To)
	assert.False(t, m.HasAttachments)
	require.NotNil(t, m.TextBody)
	assert.Nil(t, m.HTMLBody)
}

func TestNormalizeAttachmentDefaults(t *testing.T) {
	raw := rawMessage(
		"From: alice@example.com",
		"Subject: blob",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="B"`,
		"",
		"--B",
		"Content-Disposition: attachment",
		"",
		"binary-ish payload",
		"--B--",
	)

	m, err := Normalize(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "attachment", m.Attachments[0].Filename)
	assert.NotEmpty(t, m.Attachments[0].ContentType)
}

func TestNormalizeHTMLOnly(t *testing.T) {
	raw := rawMessage(
		"From: alice@example.com",
		"Subject: html only",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<script>alert("x")</script><p>Visible text</p>`,
	)

	m, err := Normalize(raw, time.Now())
	require.NoError(t, err)
	assert.Nil(t, m.TextBody)
	require.NotNil(t, m.HTMLBody)
	assert.NotContains(t, *m.HTMLBody, "<script>")
	assert.Contains(t, m.Preview, "Visible text")
}

func TestNormalizeMalformed(t *testing.T) {
	_, err := Normalize([]byte("\x00\x01 definitely not a message"), time.Now())
	assert.Error(t, err)
}

func TestNormalizeBatchSkipsBadMessages(t *testing.T) {
	batch := make([]rawMail, 0, 10)
	for i := 0; i < 9; i++ {
		batch = append(batch, rawMail{UID: uint32(i + 1), Source: sampleMultipart()})
	}
	batch = append(batch, rawMail{UID: 10, Source: []byte("\x00broken")})

	mails := normalizeBatch(batch, "acct", "INBOX", time.Now())
	require.Len(t, mails, 9)
	assert.Equal(t, "acct", mails[0].AccountCode)
	assert.Equal(t, "INBOX", mails[0].Mailbox)
	assert.Equal(t, uint32(1), mails[0].UID)
}
