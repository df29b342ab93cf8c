package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOrdersMigrationEnforcesInvariants(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"), []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CONSTRAINT orders_paid_at_check CHECK (payment_status <> 'paid' OR paid_at IS NOT NULL)",
		"OR assigned_courier_id IS NOT NULL",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestPaymentTransactionsMigrationIsKeyedByReference(t *testing.T) {
	assertContains(t, readMigration(t, "create_payment_transactions"), []string{
		"CONSTRAINT payment_transactions_provider_reference_key UNIQUE (provider_reference)",
		"FOREIGN KEY (order_id) REFERENCES orders(id)",
		"DROP TABLE IF EXISTS payment_transactions",
	})
}

func TestOrderLocksMigrationHasPartialUniqueIndex(t *testing.T) {
	assertContains(t, readMigration(t, "create_order_locks"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS order_locks_active_order_key",
		"WHERE released_at IS NULL",
		"DROP TABLE IF EXISTS order_locks",
	})
}

func TestCommunicationEventsMigrationIsKeyedByDedupeKey(t *testing.T) {
	assertContains(t, readMigration(t, "create_communication_events"), []string{
		"CONSTRAINT communication_events_dedupe_key_key UNIQUE (dedupe_key)",
		"WHERE status = 'queued'",
		"DROP TABLE IF EXISTS communication_events",
	})
}

func TestValidateEmbedded(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("on-disk migrations invalid: %v", err)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Courier Notes!", now)
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if filepath.Base(path) != "20260301093000_add_courier_notes.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if _, err := CreateSQLMigration(dir, "Add Courier Notes!", now); err == nil {
		t.Fatal("expected duplicate migration to fail")
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected empty sanitized name to fail")
	}
}
