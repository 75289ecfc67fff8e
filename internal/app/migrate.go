package app

import (
	"errors"

	"memepulse/internal/storage/migrations"
)

// Migrate applies (or with down reverts) the embedded schema migrations.
func (a *App) Migrate(down bool) error {
	dsn := a.Config.Database.DSN
	if dsn == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}

	if down {
		if err := migrations.Down(dsn); err != nil {
			return err
		}
		a.Logger.Warn().Msg("database migrations reverted")
		return nil
	}

	if err := migrations.Up(dsn); err != nil {
		return err
	}
	version, dirty, err := migrations.Version(dsn)
	if err != nil {
		return err
	}
	a.Logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrations applied")
	return nil
}
