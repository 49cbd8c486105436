package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-lessons/internal/platform/database"
	"github.com/p-n-ai/pai-lessons/internal/progress"
)

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := progress.NewPostgresStore(nil); err == nil {
		t.Fatal("NewPostgresStore(nil) should return error")
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("lessons"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	storeContract(t, func(t *testing.T) progress.Store {
		truncateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := pool.Exec(truncateCtx, `TRUNCATE lesson_progress, lesson_augmentations`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		store, err := progress.NewPostgresStore(pool)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		return store
	})
}
