package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/repo/postgres"
	"github.com/tendant/simple-vstore/pkg/vstore/repo/repotest"
)

// Set VSTORE_TEST_DATABASE_URL to a disposable database to run these tests.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("VSTORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VSTORE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func TestRepository_Contract(t *testing.T) {
	pool := testPool(t)
	repotest.Run(t, func(t *testing.T) vstore.Repository {
		_, err := pool.Exec(context.Background(),
			`TRUNCATE document_ids, documents, document_heads, session_uploads, sessions`)
		require.NoError(t, err)
		return postgres.NewWithPool(pool)
	})
}
