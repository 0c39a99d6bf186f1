// Package migrations embeds the SQL schema migrations into the binary.
// Importing it registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
