package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/pbkdf2"

	"mailbridge/models"
	"mailbridge/utils"
)

const (
	keyIterations = 4096
	keyLength     = 32
)

// keySalt is fixed: the derived key only stretches the configured
// passphrase, it is not a per-record salt.
var keySalt = []byte("mailbridge/accounts/v1")

// AccountStore resolves mail account connection profiles. Account rows are
// owned by the account manager; the sync engine reads them and decrypts the
// stored secret on the way out.
type AccountStore struct {
	db  *sqlx.DB
	key []byte
}

// NewAccountStore creates an account store whose encryption key is derived
// from the configured passphrase.
func NewAccountStore(db *sqlx.DB, passphrase string) *AccountStore {
	return &AccountStore{
		db:  db,
		key: pbkdf2.Key([]byte(passphrase), keySalt, keyIterations, keyLength, sha256.New),
	}
}

// ResolveProfile looks up the active account (userID, code) and returns its
// decrypted connection profile. No side effects.
func (s *AccountStore) ResolveProfile(ctx context.Context, userID, code string) (*models.ConnectionProfile, error) {
	var account models.MailAccount
	err := s.db.GetContext(ctx, &account,
		`SELECT * FROM mail_accounts WHERE user_id = ? AND code = ? AND is_active = 1`,
		userID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.ConfigurationError(
			fmt.Sprintf("mail account %q not found or inactive", code), nil)
	}
	if err != nil {
		return nil, utils.PersistenceError("failed to load mail account", err)
	}

	password, err := decrypt(account.Secret, s.key)
	if err != nil {
		return nil, utils.ConfigurationError(
			fmt.Sprintf("credential decryption failed for account %q", code), err)
	}

	return &models.ConnectionProfile{
		Protocol: account.Protocol,
		Host:     account.Host,
		Port:     account.Port,
		Security: account.Security,
		Username: account.Username,
		Password: password,
	}, nil
}

// SaveAccount encrypts the account password and upserts the row. Used by the
// seeding CLI and tests; production account CRUD lives with the account
// manager.
func (s *AccountStore) SaveAccount(ctx context.Context, account *models.MailAccount, password string) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	secret, err := encrypt(password, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	account.Secret = secret

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mail_accounts (
			id, user_id, code, protocol, host, port, security,
			username, secret, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, code) DO UPDATE SET
			protocol = excluded.protocol,
			host = excluded.host,
			port = excluded.port,
			security = excluded.security,
			username = excluded.username,
			secret = excluded.secret,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		account.ID, account.UserID, account.Code, account.Protocol,
		account.Host, account.Port, account.Security,
		account.Username, account.Secret, account.IsActive,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return utils.PersistenceError("failed to save mail account", err)
	}
	return nil
}

// encrypt encrypts plaintext using AES-GCM
func encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// decrypt decrypts ciphertext using AES-GCM
func decrypt(ciphertextHex string, key []byte) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
