package sqlitedriver

import (
	"context"
	"errors"
	"testing"

	"github.com/dbbouncer/sqlcore"
	"github.com/dbbouncer/sqlcore/config"
)

func memOpts() config.ConnectOptions {
	return config.ConnectOptions{Scheme: config.SchemeSQLite, SQLitePath: ":memory:", SQLiteMode: config.SQLiteModeMemory}
}

func TestConnectExecQuery(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, memOpts())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if _, _, err := c.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	rowsAffected, lastID, err := c.Exec(ctx, "INSERT INTO t (v) VALUES (?)", "hello")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rowsAffected != 1 {
		t.Errorf("rowsAffected = %d, want 1", rowsAffected)
	}
	if lastID != 1 {
		t.Errorf("lastInsertID = %d, want 1", lastID)
	}

	cur, err := c.Query(ctx, "SELECT id, v FROM t WHERE id = ?", lastID)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer cur.Close()

	vals, ok, err := cur.NextRow()
	if err != nil || !ok {
		t.Fatalf("NextRow: ok=%v err=%v", ok, err)
	}
	if len(vals) != 2 || vals[1] != "hello" {
		t.Errorf("row = %v, want [1 hello]", vals)
	}

	_, ok, err = cur.NextRow()
	if err != nil {
		t.Fatalf("NextRow (second): %v", err)
	}
	if ok {
		t.Error("expected only one row")
	}
}

func TestForeignKeyPragmaApplied(t *testing.T) {
	ctx := context.Background()
	opts := memOpts()
	opts.SQLiteForeignKey = true
	c, err := Connect(ctx, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if _, _, err := c.Exec(ctx, "CREATE TABLE parent (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, _, err := c.Exec(ctx, "CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent(id))"); err != nil {
		t.Fatalf("create child: %v", err)
	}

	_, _, err = c.Exec(ctx, "INSERT INTO child (parent_id) VALUES (999)")
	if err == nil {
		t.Error("expected foreign key violation, got nil error")
	}
}

func TestUniqueConstraintTranslatesToDBUnique(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, memOpts())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if _, _, err := c.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT UNIQUE)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, _, err := c.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, _, err = c.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "a")
	if err == nil {
		t.Fatal("expected unique constraint violation")
	}
	if !errors.Is(err, sqlcore.ErrUnique) {
		t.Errorf("err = %v, want a DBUnique database error", err)
	}
}

func TestPingAndClose(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, memOpts())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got: %v", err)
	}
}
