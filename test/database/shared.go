package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/database"
	"github.com/yokeflow/yokeflow/test/util"
)

// SharedTestDB creates a single PostgreSQL schema that several connection
// pools can share. Each call to NewClient gets its own pool pointed at the
// same schema, which lets tests run a publisher pool and a notify listener
// against the same rows the way the server process does.
type SharedTestDB struct {
	connStrWithSchema string
	baseConnStr       string
	schemaName        string
}

// NewSharedTestDB creates a shared test schema, migrates it once, and
// registers t.Cleanup to drop it. Call NewClient for each independent pool.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	ctx := context.Background()

	baseConnStr := util.GetBaseConnectionString(t)
	schemaName := util.GenerateSchemaName(t)

	db, err := sqlx.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Migrate over a schema-scoped connection, then close it; each client
	// opens its own pool.
	connStrWithSchema := util.AddSearchPathToConnString(baseConnStr, schemaName)
	db, err = sqlx.Open("pgx", connStrWithSchema)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, schemaName))
	require.NoError(t, db.Close())

	s := &SharedTestDB{
		connStrWithSchema: connStrWithSchema,
		baseConnStr:       baseConnStr,
		schemaName:        schemaName,
	}

	// Drop the schema after all clients have shut down (LIFO cleanup order
	// runs the clients' cleanups first).
	t.Cleanup(func() {
		cleanDB, err := sqlx.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("SharedTestDB: warning: could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = cleanDB.Close() }()
		_, err = cleanDB.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		if err != nil {
			t.Logf("SharedTestDB: warning: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return s
}

// NewClient creates an independent *database.Client backed by a fresh
// connection pool to the shared schema. The pool is closed via t.Cleanup.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()

	db, err := sqlx.Open("pgx", s.connStrWithSchema)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	t.Cleanup(func() { _ = db.Close() })

	return database.NewClientFromDB(db, database.Config{Database: "test"})
}

// BaseConnString returns the container's connection string without a
// search_path. The notify listener opens its dedicated LISTEN connection
// from it; NOTIFY channels are database-wide, so the listener hears
// notifications published from schema-scoped pools.
func (s *SharedTestDB) BaseConnString() string {
	return s.baseConnStr
}
