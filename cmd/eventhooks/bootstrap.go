package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/migrations"
	"github.com/goliatone/go-eventhooks/notify"
	"github.com/goliatone/go-eventhooks/security"
)

func loadConfig(ctx context.Context, root *cli) (core.Config, error) {
	if envFile := strings.TrimSpace(root.EnvFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return core.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	runtime := core.Config{HTTP: core.HTTPConfig{Addr: strings.TrimSpace(root.Addr)}}
	return core.ResolveConfig(ctx, core.NewCfgxConfigProvider(core.EnvRawConfigLoader{}), nil, runtime)
}

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "eventhooks" }

// openDatabase returns the bun persistence client and the migration dialect
// matching database.driver.
func openDatabase(cfg core.Config) (*persistence.Client, string, error) {
	var (
		sqlDriver string
		dialect   schema.Dialect
		migration string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case core.DatabaseDriverPostgres:
		sqlDriver, dialect, migration = "postgres", pgdialect.New(), migrations.DialectPostgres
	default:
		sqlDriver, dialect, migration = "sqlite3", sqlitedialect.New(), migrations.DialectSQLite
	}
	sqlDB, err := sql.Open(sqlDriver, cfg.Database.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s database: %w", sqlDriver, err)
	}
	if sqlDriver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{
		driver: sqlDriver,
		server: cfg.Database.DSN,
		debug:  strings.EqualFold(cfg.Logging.Level, "debug"),
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("persistence client: %w", err)
	}
	return client, migration, nil
}

// newSecretCipher returns nil when no database.secret_key is configured.
func newSecretCipher(cfg core.DatabaseConfig) (*security.AppKeyCipher, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, nil
	}
	return security.NewAppKeyCipherFromString(cfg.SecretKey,
		security.WithKeyID(cfg.SecretKeyID),
		security.WithPreviousKey(cfg.PreviousSecretKeyID, []byte(cfg.PreviousSecretKey)),
	)
}

func loadRecipients(path string) (*notify.StaticDirectory, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipients file: %w", err)
	}
	defer file.Close()
	return notify.LoadDirectory(file)
}

type migrateCmd struct{}

func (m *migrateCmd) Run(root *cli) error {
	ctx := context.Background()
	cfg, err := loadConfig(ctx, root)
	if err != nil {
		return err
	}
	client, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return migrations.Apply(ctx, client, dialect)
}
