package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations brings the matches schema up to date before the API starts
// serving. dir comes from config (MIGRATIONS_DIR); a relative dir is resolved
// by walking up from the working directory.
func RunMigrations(dsn, dir string, logger *slog.Logger) error {
	resolved, err := resolveMigrationDir(dir)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+resolved, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("matches schema migrated", "version", version, "dirty", dirty)

	return nil
}

// resolveMigrationDir accepts an absolute dir as-is. A relative dir is looked
// up from the working directory upward, so the binary works from any
// checkout subdirectory.
func resolveMigrationDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve migration dir: %w", err)
	}
	for d := cwd; ; d = filepath.Dir(d) {
		candidate := filepath.Join(d, dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if d == filepath.Dir(d) {
			return "", fmt.Errorf("migration dir %q not found above %s", dir, cwd)
		}
	}
}
