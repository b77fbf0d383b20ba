package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationState is what Migrate reports back to the caller.
type MigrationState struct {
	Version  uint
	Dirty    bool
	NoChange bool
}

// Migrate runs one golang-migrate command (up, down or version) against dsn
// using the migrations at source, e.g. "file://migrations". down rolls back
// a single step.
func Migrate(source, dsn, command string) (MigrationState, error) {
	m, err := migrate.New(source, dsn)
	if err != nil {
		return MigrationState{}, fmt.Errorf("migrate init: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	var st MigrationState
	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
	default:
		return st, fmt.Errorf("unknown migrate command %q", command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		st.NoChange, err = true, nil
	}
	if err != nil {
		return st, fmt.Errorf("migrate %s: %w", command, err)
	}

	st.Version, st.Dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return st, nil
	}
	return st, err
}
