package persistence

import (
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the changes-module schema through goose using the pgx
// stdlib driver.
func Migrate(dsn string) error {
	goose.SetBaseFS(schemaFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.Up(db, "schema"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
