package mailer

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"mailbridge/models"
	"mailbridge/utils"
)

const (
	defaultAttachmentName = "attachment"
	defaultContentType    = "application/octet-stream"
)

func init() {
	// Decode non-UTF-8 header and body charsets.
	message.CharsetReader = charset.Reader
}

// Normalize parses raw message source into a canonical record. The caller
// fills in AccountCode, Mailbox and UID afterwards; flags default to
// unread/unstarred until the protocol adapter applies its own.
// receivedAt substitutes for a missing Date header.
func Normalize(raw []byte, receivedAt time.Time) (*models.Mail, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, utils.ParseError("malformed message source", err)
	}
	defer mr.Close()

	m := &models.Mail{
		Subject: models.PlaceholderSubject,
		Date:    receivedAt,
	}

	header := mr.Header
	if subject, err := header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		m.Subject = subject
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		m.Date = date
	}
	if id, err := header.MessageID(); err == nil {
		m.MessageID = id
	}

	m.From = addressList(header, "From")
	m.To = addressList(header, "To")
	m.Cc = addressList(header, "Cc")
	m.Bcc = addressList(header, "Bcc")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken trailing part does not discard what already parsed.
			utils.Log.WithError(err).Debug("stopping at unreadable MIME part")
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if m.TextBody == nil {
					text := string(body)
					m.TextBody = &text
				}
			case strings.HasPrefix(contentType, "text/html"):
				if m.HTMLBody == nil {
					sanitized := utils.SanitizeHTML(string(body))
					m.HTMLBody = &sanitized
				}
			}

		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename == "" {
				filename = defaultAttachmentName
			}
			contentType, _, _ := h.ContentType()
			if contentType == "" {
				contentType = defaultContentType
			}

			size, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				continue
			}

			m.Attachments = append(m.Attachments, models.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	m.HasAttachments = len(m.Attachments) > 0

	switch {
	case m.TextBody != nil:
		m.Preview = utils.CreatePreview(*m.TextBody)
	case m.HTMLBody != nil:
		m.Preview = utils.CreatePreview(utils.HTMLToText(*m.HTMLBody))
	}

	return m, nil
}

// rawMail pairs protocol-level identity with retrieved message source.
type rawMail struct {
	UID    uint32
	Source []byte
}

// normalizeBatch parses a batch of raw messages, logging and skipping
// malformed ones. A single bad message never aborts the batch.
func normalizeBatch(batch []rawMail, accountCode, mailbox string, receivedAt time.Time) []models.Mail {
	mails := make([]models.Mail, 0, len(batch))
	for _, raw := range batch {
		m, err := Normalize(raw.Source, receivedAt)
		if err != nil {
			utils.Log.WithError(err).WithField("uid", raw.UID).Warn("skipping unparseable message")
			continue
		}
		m.AccountCode = accountCode
		m.Mailbox = mailbox
		m.UID = raw.UID
		mails = append(mails, *m)
	}
	return mails
}

// addressList flattens every address group of one header into a single
// ordered list.
func addressList(header gomail.Header, key string) []models.Address {
	list, err := header.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}

	addrs := make([]models.Address, 0, len(list))
	for _, a := range list {
		if a == nil || a.Address == "" {
			continue
		}
		addrs = append(addrs, models.Address{Name: a.Name, Email: a.Address})
	}
	if len(addrs) == 0 {
		return nil
	}
	return addrs
}
