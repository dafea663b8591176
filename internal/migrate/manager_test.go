package migrate

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (x text);\ninsert into a values ('a;b');")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (y int);")},
	}
}

func newMockManager(t *testing.T, files fs.FS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	clock := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return NewManager(db, files, WithClock(clock)), mock
}

func TestUpAppliesPendingOnly(t *testing.T) {
	mgr, mock := newMockManager(t, testFiles())

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	mgr, mock := newMockManager(t, testFiles())

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into a").WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	applied, err := mgr.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_a.up.sql") {
		t.Fatalf("expected failure naming the migration, got %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be recorded, got %v", applied)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	mgr, mock := newMockManager(t, testFiles())

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := mgr.Down(context.Background())
	if err != nil || name != "0001_a.up.sql" {
		t.Fatalf("Down = %q, %v", name, err)
	}
}

func TestDownWithoutDownFile(t *testing.T) {
	mgr, mock := newMockManager(t, testFiles())

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_b.up.sql"))

	if _, err := mgr.Down(context.Background()); err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down error, got %v", err)
	}
}

func TestDownNothingApplied(t *testing.T) {
	mgr, mock := newMockManager(t, testFiles())

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := mgr.Down(context.Background()); err == nil {
		t.Fatal("expected error with empty history")
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); select 1;  \n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "'a;b'") {
		t.Fatalf("quoted semicolon split: %q", stmts[0])
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files := Migrations()
	ups, err := collectSQL(files, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(ups) == 0 || ups[0] != "0001_auth.up.sql" {
		t.Fatalf("unexpected migrations %v", ups)
	}
	body, err := fs.ReadFile(files, "0001_auth.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, table := range []string{"roles", "role_permissions", "accounts", "sessions", "reset_tokens"} {
		if !strings.Contains(string(body), "create table if not exists "+table+" (") {
			t.Fatalf("schema missing table %s", table)
		}
	}
	if _, err := fs.Stat(files, "0001_auth.down.sql"); err != nil {
		t.Fatalf("down migration missing: %v", err)
	}
}
