package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("inboxpilot_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: connStr, MaxOpenConns: 10, MaxIdleConns: 1, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool, connStr
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool, _ := setupTestDB(t)
	ctx := context.Background()

	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pool.Exec(ctx, `TRUNCATE llm_jobs, chat_messages, llm_calls`)
			require.NoError(t, err)
			tc.fn(t, store.NewPostgresStore(pool))
		})
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool, _ := setupTestDB(t)
	assert.NoError(t, store.NewPostgresStore(pool).Ping(context.Background()))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	_, connStr := setupTestDB(t)
	assert.NoError(t, store.RunMigrations(connStr, migrationsDir()))
}

func TestRunMigrations_BadDir(t *testing.T) {
	err := store.RunMigrations("postgres://localhost:1/none?sslmode=disable", filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
