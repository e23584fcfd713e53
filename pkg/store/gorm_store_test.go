package store

import (
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newDryRunDB builds statements with the Postgres dialect without connecting.
func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 port=1 user=securechat dbname=securechat sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return db
}

func normalizeSQL(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func TestConversationsQueryShape(t *testing.T) {
	db := newDryRunDB(t)
	got := normalizeSQL(db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return conversationsQuery(tx, "alice")
	}))
	for _, want := range []string{
		"CASE WHEN sender = 'alice' THEN receiver ELSE sender END AS counterpart",
		"MAX(sent_at) AS last_activity",
		"WHERE sender = 'alice' OR receiver = 'alice'",
		"GROUP BY 1",
		"ORDER BY last_activity DESC, counterpart ASC",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("conversations query missing %q:\n%s", want, got)
		}
	}
}

func TestAppendQueryStampsInDatabase(t *testing.T) {
	db := newDryRunDB(t)
	got := normalizeSQL(db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return appendQuery(tx, "alice", "bob", "hi")
	}))
	for _, want := range []string{
		"INSERT INTO message_models (sender, receiver, content, sent_at)",
		"SELECT 'alice', 'bob', 'hi', GREATEST(",
		"clock_timestamp()",
		"(SELECT MAX(sent_at) FROM message_models)",
		"+ interval '1 microsecond'",
		"RETURNING id, sender, receiver, content, sent_at",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("append query missing %q:\n%s", want, got)
		}
	}
}
