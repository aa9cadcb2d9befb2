package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

const (
	migrationsTable = "schema_migrations"
	migrationsDir   = "migrations"
	upSuffix        = ".up.sql"
	downSuffix      = ".down.sql"
)

type appliedMigration struct {
	ID        string
	Filename  string
	AppliedAt time.Time
}

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, status, create")
		name   = flag.String("name", "", "Migration name (for create action)")
		steps  = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	m := &migrator{db: db}
	ctx := context.Background()

	switch *action {
	case "up":
		err = m.up(ctx, *steps)
	case "down":
		err = m.down(ctx, *steps)
	case "status":
		err = m.status(ctx)
	case "create":
		if *name == "" {
			slog.Error("migration name is required for create action")
			os.Exit(1)
		}
		err = create(*name)
	default:
		slog.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

type migrator struct {
	db *sql.DB
}

func (m *migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			filename VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, migrationsTable))
	return err
}

func (m *migrator) applied(ctx context.Context) (map[string]appliedMigration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensuring migrations table: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, filename, applied_at FROM %s ORDER BY applied_at", migrationsTable))
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedMigration)
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.ID, &a.Filename, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (m *migrator) pending(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(migrationsDir, "*"+upSuffix))
	if err != nil {
		return nil, fmt.Errorf("listing migration files: %w", err)
	}
	sort.Strings(files)

	var out []string
	for _, file := range files {
		if _, ok := applied[migrationID(file)]; !ok {
			out = append(out, file)
		}
	}
	return out, nil
}

func (m *migrator) up(ctx context.Context, steps int) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		slog.Info("no pending migrations")
		return nil
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	for _, file := range pending {
		if err := m.apply(ctx, file); err != nil {
			return fmt.Errorf("applying %s: %w", file, err)
		}
		slog.Info("applied migration", "file", file)
	}
	return nil
}

func (m *migrator) down(ctx context.Context, steps int) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		slog.Info("no migrations to roll back")
		return nil
	}

	ordered := make([]appliedMigration, 0, len(applied))
	for _, a := range applied {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].AppliedAt.After(ordered[j].AppliedAt)
	})
	if steps == 0 {
		steps = 1
	}
	if steps < len(ordered) {
		ordered = ordered[:steps]
	}

	for _, a := range ordered {
		if err := m.rollback(ctx, a); err != nil {
			return fmt.Errorf("rolling back %s: %w", a.Filename, err)
		}
		slog.Info("rolled back migration", "file", a.Filename)
	}
	return nil
}

func (m *migrator) status(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Applied migrations: %d\n", len(applied))
	for _, a := range applied {
		fmt.Printf("  %s - %s (applied at %s)\n", a.ID, a.Filename, a.AppliedAt.Format(time.RFC3339))
	}
	fmt.Printf("\nPending migrations: %d\n", len(pending))
	for _, file := range pending {
		fmt.Printf("  %s - %s\n", migrationID(file), filepath.Base(file))
	}
	return nil
}

func (m *migrator) apply(ctx context.Context, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, filename) VALUES ($1, $2)", migrationsTable),
		migrationID(file), filepath.Base(file)); err != nil {
		return err
	}
	return tx.Commit()
}

// rollback executes the paired down file inside one transaction with the
// bookkeeping delete, so a failed rollback leaves the record in place.
func (m *migrator) rollback(ctx context.Context, a appliedMigration) error {
	downFile := filepath.Join(migrationsDir,
		strings.TrimSuffix(a.Filename, upSuffix)+downSuffix)
	content, err := os.ReadFile(downFile)
	if err != nil {
		return fmt.Errorf("missing down migration: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", migrationsTable), a.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func create(name string) error {
	if err := os.MkdirAll(migrationsDir, 0755); err != nil {
		return err
	}

	id := fmt.Sprintf("%s_%s", time.Now().Format("20060102150405"), name)
	for _, suffix := range []string{upSuffix, downSuffix} {
		path := filepath.Join(migrationsDir, id+suffix)
		if err := os.WriteFile(path, []byte("-- "+name+"\n\n"), 0644); err != nil {
			return err
		}
		slog.Info("created migration", "file", path)
	}
	return nil
}

// migrationID is the filename without the direction suffix, e.g.
// "000001_init" for "migrations/000001_init.up.sql".
func migrationID(file string) string {
	return strings.TrimSuffix(filepath.Base(file), upSuffix)
}
