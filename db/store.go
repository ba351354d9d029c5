package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/tweetchat/crypto"
)

// Encryption versions stored with each credential.
const (
	EncryptionNone   = 0
	EncryptionAESGCM = 1
)

// CredentialStore keeps one serialized token per normalized chat identity.
// With an Encryptor configured, tokens are sealed before they are written;
// plaintext rows from earlier deployments stay readable.
type CredentialStore struct {
	db     *sql.DB
	driver string
	enc    crypto.Encryptor
}

// NewCredentialStore wraps database. enc may be nil to store plaintext.
func NewCredentialStore(database *sql.DB, driver string, enc crypto.Encryptor) *CredentialStore {
	if enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, saved credentials will be stored in plaintext", slog.String("component", "db_encryption"))
	}
	return &CredentialStore{db: database, driver: driver, enc: enc}
}

// FindToken returns the saved token for identity. found is false when no
// credential exists.
func (s *CredentialStore) FindToken(ctx context.Context, identity string) (token string, found bool, err error) {
	var version int
	var keyID sql.NullString
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT token, COALESCE(encryption_version, 0), encryption_key_id FROM user_accounts WHERE identity = ?`), identity)
	if err := row.Scan(&token, &version, &keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find token: %w", err)
	}
	switch version {
	case EncryptionNone:
		return token, true, nil
	case EncryptionAESGCM:
		if s.enc == nil {
			return "", false, fmt.Errorf("find token: %w", crypto.ErrNoKey)
		}
		pt, err := crypto.DecryptString(s.enc, token, keyID.String)
		if err != nil {
			return "", false, fmt.Errorf("find token: %w", err)
		}
		return pt, true, nil
	default:
		return "", false, fmt.Errorf("find token: unknown encryption version %d", version)
	}
}

// UpsertToken creates or overwrites the credential for identity.
func (s *CredentialStore) UpsertToken(ctx context.Context, identity, token string) error {
	stored, version, keyID, err := s.seal(token)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	q := `INSERT INTO user_accounts (identity, token, encryption_version, encryption_key_id, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (identity) DO UPDATE SET
			token = excluded.token,
			encryption_version = excluded.encryption_version,
			encryption_key_id = excluded.encryption_key_id,
			updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, rebind(s.driver, q), identity, stored, version, keyID); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// DeleteToken removes the credential for identity. Deleting a missing
// credential is not an error.
func (s *CredentialStore) DeleteToken(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, rebind(s.driver, `DELETE FROM user_accounts WHERE identity = ?`), identity); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *CredentialStore) seal(token string) (stored string, version int, keyID sql.NullString, err error) {
	if s.enc == nil {
		return token, EncryptionNone, sql.NullString{}, nil
	}
	stored, err = crypto.EncryptString(s.enc, token)
	if err != nil {
		return "", 0, sql.NullString{}, err
	}
	return stored, EncryptionAESGCM, sql.NullString{String: s.enc.KeyID(), Valid: true}, nil
}

// Credential is a stored row as written, without decryption.
type Credential struct {
	Identity          string
	EncryptionVersion int
	KeyID             string
}

// ListCredentials returns every stored credential ordered by identity.
func (s *CredentialStore) ListCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, COALESCE(encryption_version, 0), COALESCE(encryption_key_id, '') FROM user_accounts ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.Identity, &c.EncryptionVersion, &c.KeyID); err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EncryptPlaintext seals every plaintext credential with the configured
// key and returns how many rows it rewrote. With dryRun nothing is written.
func (s *CredentialStore) EncryptPlaintext(ctx context.Context, dryRun bool) (int, error) {
	if s.enc == nil {
		return 0, errors.New("encrypt plaintext: ENCRYPTION_KEY not configured")
	}
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT identity, token FROM user_accounts WHERE COALESCE(encryption_version, 0) = ?`), EncryptionNone)
	if err != nil {
		return 0, fmt.Errorf("encrypt plaintext: %w", err)
	}
	type row struct{ identity, token string }
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.identity, &r.token); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("encrypt plaintext: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("encrypt plaintext: %w", err)
	}
	_ = rows.Close()

	if dryRun {
		return len(pending), nil
	}
	for i, r := range pending {
		if err := s.UpsertToken(ctx, r.identity, r.token); err != nil {
			return i, err
		}
		slog.Info("encrypted credential", slog.String("component", "db_encryption"), slog.String("identity", r.identity))
	}
	return len(pending), nil
}

// Ping checks the database is reachable.
func (s *CredentialStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
