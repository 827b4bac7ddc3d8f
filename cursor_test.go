package sqlcore

import (
	"context"
	"testing"

	"github.com/dbbouncer/sqlcore/config"
)

func memConn(t *testing.T) *Conn {
	t.Helper()
	opts := config.ConnectOptions{Scheme: config.SchemeSQLite, SQLitePath: ":memory:", SQLiteMode: config.SQLiteModeMemory}
	conn, err := Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestQueryRowCountMatchesInsertedRows(t *testing.T) {
	ctx := context.Background()
	conn := memConn(t)

	if _, _, err := conn.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := conn.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", name); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	cur, err := conn.Query(ctx, "SELECT id, name FROM widgets ORDER BY id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer cur.Close()

	var names []string
	for {
		ok, err := cur.NextRow()
		if err != nil {
			t.Fatalf("next row: %v", err)
		}
		if !ok {
			break
		}
		name, err := cur.Row().String(1)
		if err != nil {
			t.Fatalf("decode name: %v", err)
		}
		names = append(names, name)
	}

	if len(names) != 3 {
		t.Fatalf("row count = %d, want 3", len(names))
	}
	want := []string{"a", "b", "c"}
	for i, n := range names {
		if n != want[i] {
			t.Errorf("row %d = %q, want %q", i, n, want[i])
		}
	}
}

func TestExecReturnsRowsAffectedAndLastInsertID(t *testing.T) {
	ctx := context.Background()
	conn := memConn(t)

	if _, _, err := conn.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	_, lastID, err := conn.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "sprocket")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if lastID != 1 {
		t.Errorf("lastInsertID = %d, want 1", lastID)
	}

	affected, _, err := conn.Exec(ctx, "UPDATE widgets SET name = ? WHERE id = ?", "gadget", lastID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if affected != 1 {
		t.Errorf("rowsAffected = %d, want 1", affected)
	}
}

func TestQueryResultEmptyOnNoRows(t *testing.T) {
	ctx := context.Background()
	conn := memConn(t)

	if _, _, err := conn.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	cur, err := conn.Query(ctx, "SELECT id FROM widgets")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer cur.Close()

	ok, err := cur.NextRow()
	if err != nil {
		t.Fatalf("next row: %v", err)
	}
	if ok {
		t.Error("expected no rows from an empty table")
	}
}

func TestRowColumnByNameAndOutOfRange(t *testing.T) {
	ctx := context.Background()
	conn := memConn(t)

	if _, _, err := conn.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, _, err := conn.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "sprocket"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cur, err := conn.Query(ctx, "SELECT id, name FROM widgets")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer cur.Close()

	ok, err := cur.NextRow()
	if err != nil || !ok {
		t.Fatalf("expected one row, ok=%v err=%v", ok, err)
	}

	row := cur.Row()
	rv, err := row.Column("name")
	if err != nil {
		t.Fatalf("Column(name): %v", err)
	}
	s, err := rv.String()
	if err != nil || s != "sprocket" {
		t.Errorf("Column(name) = %q, err=%v, want sprocket", s, err)
	}

	if _, err := row.Column("nonexistent"); err == nil {
		t.Error("expected error for unknown column name")
	}
	if _, err := row.At(99); err == nil {
		t.Error("expected error for out-of-range column index")
	}
}

func TestConnPingAndClose(t *testing.T) {
	conn := memConn(t)
	if err := conn.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
