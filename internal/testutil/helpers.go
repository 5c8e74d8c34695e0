package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"StakeLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}

// SetupTestDB returns a migrated Postgres database. TEST_POSTGRES_DSN points
// it at an existing server, otherwise a throwaway container is started.
// Tables are truncated when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	RequireIntegration(t)

	ctx := context.Background()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		container, err := postgres.Run(ctx, "postgres:15-alpine",
			postgres.WithDatabase("stakeledger_test"),
			postgres.WithUsername("stake_test"),
			postgres.WithPassword("stake_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		require.NoError(t, err, "failed to start postgres container")
		t.Cleanup(func() {
			if err := container.Terminate(ctx); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err, "failed to get connection string")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(pingCtx), "postgres not reachable")

	migrations, err := persistence.Migrations("")
	require.NoError(t, err)
	require.NoError(t, persistence.NewMigrator(db, migrations, zerolog.Nop()).Up(ctx))

	t.Cleanup(func() {
		tables := []string{
			"event_log.events",
			"event_log.journal",
			"event_log.snapshots",
			"projections.pools",
			"projections.positions",
			"projections.balances",
			"projections.reward_payouts",
			"projections.watermark",
		}
		for _, table := range tables {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		db.Close()
	})

	return db
}

// AssertGolden compares got against testdata/golden/<name>.golden.
// Run the test with -update to rewrite the file.
func AssertGolden(t *testing.T, name string, got []byte) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, got)
}
