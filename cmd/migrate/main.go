package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// dbCommands run against the database; they read the embedded migrations
// unless -dir points at a directory on disk.
var dbCommands = map[string]func(ctx context.Context, sqlDB *sql.DB, opts options) error{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"redo":   gooseCommand("redo"),
	"status": gooseCommand("status"),
	"version": func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		if opts.version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	},
}

func gooseCommand(name string) func(context.Context, *sql.DB, options) error {
	return func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		return migrate.Run(ctx, sqlDB, opts.dir, name)
	}
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory on disk (default: embedded for db commands, "+migrate.DefaultDir+" for create)")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if err := run(logg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(logg *logger.Logger, opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("missing -name for create")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		var err error
		if opts.dir == "" {
			err = migrate.ValidateEmbedded()
		} else {
			err = migrate.ValidateDir(opts.dir)
		}
		if err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	command, ok := dbCommands[opts.cmd]
	if !ok {
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	logg.Info(ctx, "running migrations")
	if err := command(ctx, sqlDB, opts); err != nil {
		logg.Error(ctx, "migration failed", err)
		return err
	}
	logg.Info(ctx, "migrations complete")
	return nil
}
