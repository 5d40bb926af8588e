package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const migrationsPath = "../../migrations"

var dsn string

func mustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	var (
		dbName = "database"
		dbPwd  = "password"
		dbUser = "user"
	)

	// Create context with timeout to prevent hanging
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dsn, err = dbContainer.ConnectionString(context.Background(), "sslmode=disable")
	return dbContainer.Terminate, err
}

func TestMain(m *testing.M) {
	// Skip integration tests if SKIP_INTEGRATION env var is set
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartPostgresContainer()
	if err != nil {
		// Don't fail, just skip tests if container can't start
		os.Exit(0)
	}

	code := m.Run()

	if teardown != nil {
		teardown(context.Background())
	}

	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func TestNew(t *testing.T) {
	srv, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()

	if srv.Pool() == nil {
		t.Fatal("Pool() returned nil")
	}
}

func TestNew_BadURL(t *testing.T) {
	if _, err := New(context.Background(), "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"); err == nil {
		t.Fatal("New() with unreachable database returned nil error")
	}
}

func TestHealth(t *testing.T) {
	srv, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()

	stats := srv.Health()

	if stats["status"] != "up" {
		t.Fatalf("expected status to be up, got %s", stats["status"])
	}

	if _, ok := stats["error"]; ok {
		t.Fatalf("expected error not to be present")
	}

	if stats["message"] != "It's healthy" {
		t.Fatalf("expected message to be 'It's healthy', got %s", stats["message"])
	}
}

func TestClose(t *testing.T) {
	srv, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if srv.Close() != nil {
		t.Fatalf("expected Close() to return nil")
	}
}

func TestMigrations(t *testing.T) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	if err := RunMigrations(db, migrationsPath); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	// Up to date is not an error.
	if err := RunMigrations(db, migrationsPath); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	version, dirty, err := GetMigrationVersion(db, migrationsPath)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 clean", version, dirty)
	}

	if _, err := db.Exec(`INSERT INTO crash_rounds (id, seq, server_seed, server_seed_hash, crash_point, status)
		VALUES (gen_random_uuid(), 1, 's', repeat('a', 64), 2.00, 'betting')`); err != nil {
		t.Fatalf("insert round: %v", err)
	}
	if _, err := db.Exec(`UPDATE crash_rounds SET crash_point = 3.00 WHERE seq = 1`); err == nil {
		t.Error("crash point update succeeded, want immutability trigger to reject it")
	}
	if _, err := db.Exec(`UPDATE crash_rounds SET status = 'running' WHERE seq = 1`); err != nil {
		t.Errorf("status update error = %v", err)
	}

	if err := RollbackMigration(db, migrationsPath); err != nil {
		t.Fatalf("RollbackMigration() error = %v", err)
	}
	if version, _, _ := GetMigrationVersion(db, migrationsPath); version != 0 {
		t.Errorf("version after rollback = %d, want 0", version)
	}
}
