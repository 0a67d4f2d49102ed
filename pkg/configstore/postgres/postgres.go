// Package postgres is the production backend for the configuration and
// provenance stores. Both live in one database so mutating operations can
// span them in a single transaction.
package postgres

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres migrations driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // file migrations source
	_ "github.com/lib/pq"                                      // postgres sql driver
	"github.com/pkg/errors"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/models"
)

// timeout waiting for database connection to be established
const dbTimeout = 5 * time.Minute

type dbProxy interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txContextKey struct{}

// DB is a postgres-backed store, for dev and production. It implements the
// configuration store, the provenance store and the transaction manager.
type DB struct {
	db     *sql.DB
	logger log.Logger
}

// dbWait waits for the database connection to be established.
func dbWait(db *sql.DB, logger log.Logger) error {
	deadline := time.Now().Add(dbTimeout)
	var err error
	for tries := 0; time.Now().Before(deadline); tries++ {
		err = db.Ping()
		if err == nil {
			return nil
		}
		level.Warn(logger).Log("msg", "db connection not established, retrying...", "err", err)
		time.Sleep(time.Second << uint(tries))
	}
	return errors.Wrapf(err, "db connection not established after %s", dbTimeout)
}

// New opens the database and runs migrations when a migrations dir is given.
func New(uri, migrationsDir string, logger log.Logger) (*DB, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open postgres db")
	}

	if err := dbWait(db, logger); err != nil {
		return nil, errors.Wrap(err, "cannot establish db connection")
	}

	if migrationsDir != "" {
		level.Info(logger).Log("msg", "running database migrations...")
		m, err := migrate.New("file://"+migrationsDir, uri)
		if err != nil {
			return nil, errors.Wrap(err, "database migrations failed")
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return nil, errors.Wrap(err, "database migrations failed")
		}
	}

	return &DB{db: db, logger: logger}, nil
}

// proxy returns the transaction bound to ctx by InTransaction, or the bare
// connection pool.
func (d *DB) proxy(ctx context.Context) dbProxy {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return d.db
}

func (d *DB) builder(ctx context.Context) squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).RunWith(stdProxy{proxy: d.proxy(ctx), ctx: ctx})
}

// stdProxy adapts a context-carrying proxy to the context-less squirrel
// runner interface.
type stdProxy struct {
	proxy dbProxy
	ctx   context.Context
}

func (p stdProxy) Exec(query string, args ...interface{}) (sql.Result, error) {
	return p.proxy.ExecContext(p.ctx, query, args...)
}

func (p stdProxy) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return p.proxy.QueryContext(p.ctx, query, args...)
}

func (p stdProxy) QueryRow(query string, args ...interface{}) squirrel.RowScanner {
	return p.proxy.QueryRowContext(p.ctx, query, args...)
}

// InTransaction runs fn with a transaction bound to the context: every store
// call made through this DB inside fn joins the same transaction. Nested
// calls reuse the outer transaction.
func (d *DB) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		// Rollback error is ignored as we already have one in progress.
		if err2 := tx.Rollback(); err2 != nil {
			level.Warn(d.logger).Log("msg", "transaction rollback error (ignored)", "err", err2)
		}
		return err
	}
	return tx.Commit()
}

func (d *DB) GetLatest(ctx context.Context, orgID int64) (configstore.LatestLookup, error) {
	row, err := d.scanConfig(d.builder(ctx).
		Select("id", "org_id", "config", "config_hash", "config_version", "created_at", "is_default", "last_applied").
		From("alert_configuration").
		Where(squirrel.Eq{"org_id": orgID}).
		OrderBy("id DESC").
		Limit(1).
		QueryRow())
	if err == sql.ErrNoRows {
		return configstore.LatestLookup{}, nil
	}
	if err != nil {
		return configstore.LatestLookup{}, err
	}
	return configstore.LatestLookup{Config: &row.AlertConfiguration}, nil
}

func (d *DB) GetHistorical(ctx context.Context, orgID int64, id int64) (*models.HistoricConfiguration, error) {
	row, err := d.scanConfig(d.builder(ctx).
		Select("id", "org_id", "config", "config_hash", "config_version", "created_at", "is_default", "last_applied").
		From("alert_configuration").
		Where(squirrel.Eq{"org_id": orgID, "id": id}).
		QueryRow())
	if err == sql.ErrNoRows {
		return nil, configstore.ErrNotFound
	}
	return row, err
}

func (d *DB) GetApplied(ctx context.Context, orgID int64, limit int) ([]*models.HistoricConfiguration, error) {
	q := d.builder(ctx).
		Select("id", "org_id", "config", "config_hash", "config_version", "created_at", "is_default", "last_applied").
		From("alert_configuration").
		Where(squirrel.And{squirrel.Eq{"org_id": orgID}, squirrel.Gt{"last_applied": 0}}).
		OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := q.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cfgs []*models.HistoricConfiguration
	for rows.Next() {
		var cfg models.HistoricConfiguration
		if err := rows.Scan(&cfg.ID, &cfg.OrgID, &cfg.AlertmanagerConfiguration, &cfg.ConfigurationHash,
			&cfg.ConfigurationVersion, &cfg.CreatedAt, &cfg.Default, &cfg.LastApplied); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, rows.Err()
}

func (d *DB) Save(ctx context.Context, cmd *models.SaveConfigurationCommand) error {
	now := time.Now().Unix()
	applied := cmd.LastApplied
	if applied == 0 {
		applied = now
	}
	_, err := d.builder(ctx).
		Insert("alert_configuration").
		Columns("org_id", "config", "config_hash", "config_version", "created_at", "is_default", "last_applied").
		Values(cmd.OrgID, cmd.AlertmanagerConfiguration, fmt.Sprintf("%x", md5.Sum([]byte(cmd.AlertmanagerConfiguration))),
			cmd.ConfigurationVersion, now, cmd.Default, applied).
		Exec()
	return err
}

func (d *DB) scanConfig(row squirrel.RowScanner) (*models.HistoricConfiguration, error) {
	var cfg models.HistoricConfiguration
	err := row.Scan(&cfg.ID, &cfg.OrgID, &cfg.AlertmanagerConfiguration, &cfg.ConfigurationHash,
		&cfg.ConfigurationVersion, &cfg.CreatedAt, &cfg.Default, &cfg.LastApplied)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetProvenance implements the provenance store over the provenance_type
// table.
func (d *DB) GetProvenance(ctx context.Context, o models.Provisionable, orgID int64) (models.Provenance, error) {
	var p string
	err := d.builder(ctx).
		Select("provenance").
		From("provenance_type").
		Where(squirrel.Eq{"org_id": orgID, "resource_type": o.ResourceType(), "resource_id": o.ResourceID()}).
		QueryRow().Scan(&p)
	if err == sql.ErrNoRows {
		return models.ProvenanceNone, nil
	}
	if err != nil {
		return models.ProvenanceNone, err
	}
	return models.ParseProvenance(p)
}

func (d *DB) GetProvenances(ctx context.Context, orgID int64, resourceType string) (map[string]models.Provenance, error) {
	rows, err := d.builder(ctx).
		Select("resource_id", "provenance").
		From("provenance_type").
		Where(squirrel.Eq{"org_id": orgID, "resource_type": resourceType}).
		Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	provenances := map[string]models.Provenance{}
	for rows.Next() {
		var id, p string
		if err := rows.Scan(&id, &p); err != nil {
			return nil, err
		}
		provenance, err := models.ParseProvenance(p)
		if err != nil {
			return nil, err
		}
		provenances[id] = provenance
	}
	return provenances, rows.Err()
}

func (d *DB) SetProvenance(ctx context.Context, o models.Provisionable, orgID int64, p models.Provenance) error {
	_, err := d.builder(ctx).
		Insert("provenance_type").
		Columns("org_id", "resource_type", "resource_id", "provenance").
		Values(orgID, o.ResourceType(), o.ResourceID(), string(p)).
		Suffix("ON CONFLICT (org_id, resource_type, resource_id) DO UPDATE SET provenance = EXCLUDED.provenance").
		Exec()
	return err
}

func (d *DB) DeleteProvenance(ctx context.Context, o models.Provisionable, orgID int64) error {
	_, err := d.builder(ctx).
		Delete("provenance_type").
		Where(squirrel.Eq{"org_id": orgID, "resource_type": o.ResourceType(), "resource_id": o.ResourceID()}).
		Exec()
	return err
}

// Close finishes using the db.
func (d *DB) Close() error {
	return d.db.Close()
}
