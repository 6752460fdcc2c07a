package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM wallets").Scan(&count); err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range schemaTables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.DB() != s.db {
		t.Error("DB() did not return the underlying connection")
	}
}

func TestPragma_Settings(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

var schemaTables = []string{
	"config", "whitelist", "accounts", "wallets",
	"authenticators", "commits", "policy_records", "events",
}

func TestSchema_TableColumns(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	want := map[string][]string{
		"config": {"id", "authority", "default_policy", "commit_ttl", "max_message_age",
			"create_wallet_fee", "execute_fee", "paused", "updated_at"},
		"whitelist":      {"module", "position", "added_at"},
		"accounts":       {"address", "balance"},
		"wallets":        {"address", "wallet_id", "state_address", "policy", "nonce", "owner", "created_at"},
		"authenticators": {"address", "wallet", "passkey", "credential_id", "created_at"},
		"commits": {"wallet", "nonce", "address", "program", "data_hash", "accounts_hash",
			"expires_at", "refund_to", "created_at"},
		"policy_records": {"address", "owner", "data", "updated_at"},
		"events":         {"seq", "id", "kind", "wallet", "payload", "prev_hash", "hash", "created_at"},
	}
	for table, cols := range want {
		got := getTableColumns(t, s.db, table)
		if len(got) != len(cols) {
			t.Errorf("%s columns = %v, want %v", table, got, cols)
			continue
		}
		for i := range cols {
			if got[i] != cols[i] {
				t.Errorf("%s column %d = %q, want %q", table, i, got[i], cols[i])
			}
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if idx := getTableIndexes(t, s.db, "commits"); !contains(idx, "idx_commits_expires") {
		t.Errorf("commits missing idx_commits_expires, indexes: %v", idx)
	}
	if idx := getTableIndexes(t, s.db, "events"); !contains(idx, "idx_events_wallet") {
		t.Errorf("events missing idx_events_wallet, indexes: %v", idx)
	}
}

func TestSchema_ConfigSingleton(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.db.Exec(`INSERT INTO config
		(id, authority, default_policy, commit_ttl, max_message_age, create_wallet_fee, execute_fee, updated_at)
		VALUES (2, x'00', x'00', 1, 1, 0, 0, 0)`)
	if err == nil {
		t.Error("expected CHECK violation for config id != 1")
	}
}

func TestSchema_NegativeBalanceRejected(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := s.db.Exec(`INSERT INTO accounts (address, balance) VALUES (x'01', -1)`); err == nil {
		t.Error("expected CHECK violation for negative balance")
	}
}

func TestSchema_AuthenticatorRequiresWallet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.db.Exec(`INSERT INTO authenticators (address, wallet, passkey, credential_id, created_at)
		VALUES (x'01', x'02', x'03', x'04', 0)`)
	if err == nil {
		t.Error("expected foreign key violation for unknown wallet")
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() after v0 failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
	if idx := getTableIndexes(t, s.db, "events"); !contains(idx, "idx_events_wallet") {
		t.Errorf("migration did not create idx_events_wallet, indexes: %v", idx)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	sentinel := errors.New("abort")
	err = s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Credit(ctx, addr(1), 100); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx() error = %v, want sentinel unchanged", err)
	}

	bal, err := s.Balance(ctx, addr(1))
	if err != nil {
		t.Fatalf("Balance() failed: %v", err)
	}
	if bal != 0 {
		t.Errorf("balance after rollback = %d, want 0", bal)
	}
}

func TestWithTx_Commits(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	err = s.WithTx(ctx, func(tx *Tx) error {
		return tx.Credit(ctx, addr(1), 100)
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}
	bal, _ := s.Balance(ctx, addr(1))
	if bal != 100 {
		t.Errorf("balance = %d, want 100", bal)
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
