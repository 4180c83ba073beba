package db_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/payrail/pkg/db"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := conn.Exec(`CREATE TABLE slots (id BIGINT PRIMARY KEY, name TEXT NOT NULL UNIQUE)`).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if err := conn.Exec(`INSERT INTO slots (id, name) VALUES (1, 'a')`).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := conn.Exec(`INSERT INTO slots (id, name) VALUES (2, 'a')`).Error
	if dup == nil {
		t.Fatal("expected a constraint violation")
	}
	if !db.IsUniqueViolation(dup) {
		t.Fatalf("expected unique violation, got %v", dup)
	}

	if db.IsUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
	if db.IsUniqueViolation(errors.New("connection refused")) {
		t.Fatal("unrelated errors are not violations")
	}
	if !db.IsUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatal("gorm duplicated-key sentinel is a violation")
	}
}
