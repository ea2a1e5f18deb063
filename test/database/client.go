// Package database builds *database.Client values for integration tests,
// backed by a PostgreSQL testcontainer with per-test schema isolation.
package database

import (
	"testing"

	"github.com/yokeflow/yokeflow/pkg/database"
	"github.com/yokeflow/yokeflow/test/util"
)

// NewTestClient creates a migrated test database client.
// In CI (when CI_DATABASE_URL is set): connects to the external PostgreSQL
// service container. In local dev: uses a shared testcontainer.
// The schema and connections are cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db, database.Config{Database: "test"})
}
