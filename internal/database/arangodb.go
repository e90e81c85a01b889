package database

import (
	"context"
	"fmt"

	"github.com/aosanya/workflowforge/internal/config"
	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
	log "github.com/sirupsen/logrus"
)

// ArangoClient wraps the ArangoDB client and database handle shared by every
// repository in this module.
type ArangoClient struct {
	client driver.Client
	db     driver.Database
	cfg    *config.DatabaseConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// NewArangoClient opens (creating if necessary) the configured database.
func NewArangoClient(cfg *config.DatabaseConfig) (*ArangoClient, error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := http.NewConnection(http.ConnectionConfig{
		Endpoints: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open arangodb connection: %w", err)
	}

	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create arangodb client: %w", err)
	}

	db, err := ensureDatabase(ctx, client, cfg.Database)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ensure database %q: %w", cfg.Database, err)
	}

	log.WithFields(log.Fields{"host": cfg.Host, "port": cfg.Port, "database": cfg.Database}).
		Info("connected to arangodb")

	return &ArangoClient{client: client, db: db, cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

func ensureDatabase(ctx context.Context, client driver.Client, name string) (driver.Database, error) {
	exists, err := client.DatabaseExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return client.Database(ctx, name)
	}

	db, err := client.CreateDatabase(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}
	log.WithField("database", name).Info("created new database")
	return db, nil
}

// EnsureCollection returns the named collection, creating it on first use.
// Shared by every repository so collection bootstrap logic lives in one place.
func (ac *ArangoClient) EnsureCollection(ctx context.Context, name string) (driver.Collection, error) {
	exists, err := ac.db.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check collection %q: %w", name, err)
	}
	if exists {
		return ac.db.Collection(ctx, name)
	}

	col, err := ac.db.CreateCollection(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	log.WithField("collection", name).Info("created collection")
	return col, nil
}

// EnsurePersistentIndex creates a persistent index on the given fields if it
// does not already exist. Failures are logged, not fatal: the repository can
// still serve correct (if slower) reads without it.
func (ac *ArangoClient) EnsurePersistentIndex(ctx context.Context, col driver.Collection, name string, fields []string, unique bool) {
	if exists, err := col.IndexExists(ctx, name); err != nil {
		log.WithError(err).WithField("index", name).Warn("failed to check index existence")
		return
	} else if exists {
		return
	}

	if _, _, err := col.EnsurePersistentIndex(ctx, fields, &driver.EnsurePersistentIndexOptions{
		Name:   name,
		Unique: unique,
	}); err != nil {
		log.WithError(err).WithField("index", name).Warn("failed to create index")
		return
	}
	log.WithField("index", name).Info("created index")
}

// Database returns the underlying database handle.
func (ac *ArangoClient) Database() driver.Database { return ac.db }

// Context returns the client's background context, cancelled on Close.
func (ac *ArangoClient) Context() context.Context { return ac.ctx }

// Ping verifies connectivity to the ArangoDB server.
func (ac *ArangoClient) Ping() error {
	version, err := ac.client.Version(ac.ctx)
	if err != nil {
		return fmt.Errorf("ping arangodb: %w", err)
	}
	log.WithField("version", version.Version).Debug("arangodb ping successful")
	return nil
}

// Close cancels the client context.
func (ac *ArangoClient) Close() error {
	if ac.cancel != nil {
		ac.cancel()
	}
	log.Info("closed arangodb client")
	return nil
}
