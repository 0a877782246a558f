package database

import (
	"testing"

	"github.com/relaygrid/metadata/internal/config"
	"github.com/relaygrid/metadata/internal/conversations"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := Open(config.DriverSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for _, table := range []string{
		"conversations",
		"conversation_members",
		"message_sequences_log",
		"user_identities",
		"users_directory",
		"db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migration", table)
		}
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationNormalizeNullMetadata).Take(&record).Error; err != nil {
		t.Fatalf("expected migration record, got %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatal("migration record is missing its applied timestamp")
	}
}

func TestOpenRejectsBadConfiguration(t *testing.T) {
	if _, err := Open(config.DriverSQLite, "", nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := Open("oracle", ":memory:", nil); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestMigrationsAreRecordedOnce(t *testing.T) {
	db, err := Open(config.DriverSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	// Re-running against an already-migrated database is a no-op.
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected reapply error: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationNormalizeNullMetadata).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one migration record, got %d", count)
	}
}

func TestNormalizeNullMetadata(t *testing.T) {
	db, err := Open(config.DriverSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	if err := db.Exec(
		"INSERT INTO conversations (conversation_id, type, last_sequence_number, metadata, created_at) VALUES (?, ?, 0, NULL, CURRENT_TIMESTAMP)",
		"conv-legacy", "group",
	).Error; err != nil {
		t.Fatalf("failed to seed legacy row: %v", err)
	}

	if err := normalizeNullMetadata(db); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var conversation conversations.Conversation
	if err := db.Where("conversation_id = ?", "conv-legacy").Take(&conversation).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if conversation.MetadataJSON != "" {
		t.Fatalf("expected empty metadata, got %q", conversation.MetadataJSON)
	}
}
