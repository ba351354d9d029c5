// Package testutil holds shared test fixtures: databases, a mock social
// network API server and in-memory fakes of the session collaborators.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/tweetchat/crypto"
	"github.com/onnwee/tweetchat/db"
)

// SetupTestDB connects to TEST_PG_DSN and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	return setup(t, dsn)
}

// SetupSQLiteDB creates a migrated SQLite database in a temp dir.
func SetupSQLiteDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	return setup(t, "sqlite://"+filepath.Join(t.TempDir(), "tweetchat.db"))
}

func setup(t *testing.T, dsn string) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()
	database, driver, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(ctx, database, driver); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database, driver
}

// NewSQLiteStore returns a credential store on a fresh SQLite database,
// encrypting with a random key when encrypted is true.
func NewSQLiteStore(t *testing.T, encrypted bool) *db.CredentialStore {
	t.Helper()
	database, driver := SetupSQLiteDB(t)
	var enc crypto.Encryptor
	if encrypted {
		enc = NewEncryptor(t)
	}
	return db.NewCredentialStore(database, driver, enc)
}

// NewEncryptor returns an AES-GCM encryptor with a random key.
func NewEncryptor(t *testing.T) *crypto.AESEncryptor {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	return enc
}
