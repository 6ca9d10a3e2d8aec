package models

import (
	"fmt"
	"time"
)

// Protocol identifies the retrieval protocol of a mail account.
type Protocol string

const (
	ProtocolIMAP Protocol = "IMAP"
	ProtocolPOP3 Protocol = "POP3"
)

// Security is the transport security mode of a mail account.
type Security string

const (
	SecuritySSL      Security = "SSL"
	SecurityStartTLS Security = "STARTTLS"
	SecurityNone     Security = "NONE"
)

// MailAccount is a user's stored mail account configuration. The account
// manager owns creation and mutation; the sync engine only reads it.
// Secret holds the AES-GCM encrypted password, hex encoded.
type MailAccount struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Code      string    `db:"code" json:"code"`
	Protocol  Protocol  `db:"protocol" json:"protocol"`
	Host      string    `db:"host" json:"host"`
	Port      int       `db:"port" json:"port"`
	Security  Security  `db:"security" json:"security"`
	Username  string    `db:"username" json:"username"`
	Secret    string    `db:"secret" json:"-"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ConnectionProfile is a resolved, decrypted connection description for one
// account, handed to the protocol adapters.
type ConnectionProfile struct {
	Protocol Protocol
	Host     string
	Port     int
	Security Security
	Username string
	Password string
}

// Addr returns the host:port dial address.
func (p *ConnectionProfile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
