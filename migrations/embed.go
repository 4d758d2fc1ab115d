// Package migrations embeds the set history schema into the binary.
// Importing it registers the schema with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/ariston-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var schemaFiles embed.FS

func init() {
	database.RegisterSchema(schemaFiles)
}
