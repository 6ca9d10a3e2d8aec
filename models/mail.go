package models

import "time"

// PlaceholderSubject is stored when a message carries no Subject header.
const PlaceholderSubject = "(no subject)"

// Address is a single parsed mailbox address.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Mail is the canonical, protocol-agnostic representation of one message.
// It is identified by (AccountCode, Mailbox, UID); the UID is unique only
// within that scope, never globally.
type Mail struct {
	AccountCode string `json:"account_code"`
	Mailbox     string `json:"mailbox"`
	UID         uint32 `json:"uid"`

	// MessageID may be absent and may repeat across records in a thread.
	MessageID string    `json:"message_id,omitempty"`
	From      []Address `json:"from"`
	To        []Address `json:"to"`
	Cc        []Address `json:"cc,omitempty"`
	Bcc       []Address `json:"bcc,omitempty"`
	Subject   string    `json:"subject"`

	// TextBody and HTMLBody are independently nullable: a message may carry
	// both, either, or neither.
	TextBody *string   `json:"text_body,omitempty"`
	HTMLBody *string   `json:"html_body,omitempty"`
	Preview  string    `json:"preview,omitempty"`
	Date     time.Time `json:"date"`

	IsRead         bool         `json:"is_read"`
	IsStarred      bool         `json:"is_starred"`
	HasAttachments bool         `json:"has_attachments"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Labels         []string     `json:"labels,omitempty"`
}

// Attachment is attachment metadata; content is never cached.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}
