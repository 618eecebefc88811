package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// An in-memory database exists per connection; keep the pool at one so
	// every caller sees the same database.
	if s.path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting, the DSN parameter alone is not enough
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

const fabricColumns = `id, name, repo_url, repo_ref, repo_subdir, repo_credential_id,
	       cluster_endpoint, cluster_namespace, cluster_credential_id,
	       sync_enabled, sync_interval, last_repo_sync_at, last_cluster_sync_at,
	       sync_status, sync_status_message, desired_state_revision, created_at, updated_at`

func scanFabric(row interface{ Scan(...any) error }) (*Fabric, error) {
	fabric := &Fabric{}
	err := row.Scan(
		&fabric.ID,
		&fabric.Name,
		&fabric.RepoURL,
		&fabric.RepoRef,
		&fabric.RepoSubdir,
		&fabric.RepoCredentialID,
		&fabric.ClusterEndpoint,
		&fabric.ClusterNamespace,
		&fabric.ClusterCredentialID,
		&fabric.SyncEnabled,
		&fabric.SyncInterval,
		&fabric.LastRepoSyncAt,
		&fabric.LastClusterSyncAt,
		&fabric.SyncStatus,
		&fabric.SyncStatusMessage,
		&fabric.DesiredStateRevision,
		&fabric.CreatedAt,
		&fabric.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return fabric, nil
}

// CreateFabric creates a new fabric record.
func (s *SQLiteStore) CreateFabric(ctx context.Context, fabric *Fabric) error {
	query := `
		INSERT INTO fabrics (
			id, name, repo_url, repo_ref, repo_subdir, repo_credential_id,
			cluster_endpoint, cluster_namespace, cluster_credential_id,
			sync_enabled, sync_interval, last_repo_sync_at, last_cluster_sync_at,
			sync_status, sync_status_message, desired_state_revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		fabric.ID,
		fabric.Name,
		fabric.RepoURL,
		fabric.RepoRef,
		fabric.RepoSubdir,
		fabric.RepoCredentialID,
		fabric.ClusterEndpoint,
		fabric.ClusterNamespace,
		fabric.ClusterCredentialID,
		fabric.SyncEnabled,
		fabric.SyncInterval,
		fabric.LastRepoSyncAt,
		fabric.LastClusterSyncAt,
		fabric.SyncStatus,
		fabric.SyncStatusMessage,
		fabric.DesiredStateRevision,
		fabric.CreatedAt,
		fabric.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create fabric: %w", err)
	}

	return nil
}

// GetFabric retrieves a fabric by ID.
func (s *SQLiteStore) GetFabric(ctx context.Context, id string) (*Fabric, error) {
	query := `SELECT ` + fabricColumns + ` FROM fabrics WHERE id = ?`

	fabric, err := scanFabric(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fabric not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fabric: %w", err)
	}

	return fabric, nil
}

// ListFabrics lists all fabrics.
func (s *SQLiteStore) ListFabrics(ctx context.Context) ([]*Fabric, error) {
	query := `SELECT ` + fabricColumns + ` FROM fabrics ORDER BY name ASC`
	return s.queryFabrics(ctx, query)
}

// ListSyncEnabledFabrics lists fabrics with synchronization enabled.
func (s *SQLiteStore) ListSyncEnabledFabrics(ctx context.Context) ([]*Fabric, error) {
	query := `SELECT ` + fabricColumns + ` FROM fabrics WHERE sync_enabled = 1 ORDER BY name ASC`
	return s.queryFabrics(ctx, query)
}

func (s *SQLiteStore) queryFabrics(ctx context.Context, query string, args ...any) ([]*Fabric, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fabrics: %w", err)
	}
	defer rows.Close()

	fabrics := []*Fabric{}
	for rows.Next() {
		fabric, err := scanFabric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fabric: %w", err)
		}
		fabrics = append(fabrics, fabric)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fabrics: %w", err)
	}

	return fabrics, nil
}

// UpdateFabricStatus updates the calculated sync status of a fabric.
func (s *SQLiteStore) UpdateFabricStatus(ctx context.Context, id string, status FabricSyncStatus, message *string) error {
	if err := status.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE fabrics
		SET sync_status = ?, sync_status_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, message, id)
	if err != nil {
		return fmt.Errorf("failed to update fabric status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("fabric not found: %s", id)
	}

	return nil
}

// UpdateFabricSyncResult projects a completed sync attempt onto the fabric row.
func (s *SQLiteStore) UpdateFabricSyncResult(ctx context.Context, id string, status FabricSyncStatus, message *string, revision string, repoSyncedAt *time.Time) error {
	if err := status.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE fabrics
		SET sync_status = ?, sync_status_message = ?,
			desired_state_revision = CASE WHEN ? != '' THEN ? ELSE desired_state_revision END,
			last_repo_sync_at = COALESCE(?, last_repo_sync_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, message, revision, revision, repoSyncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update fabric sync result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("fabric not found: %s", id)
	}

	return nil
}

const resourceColumns = `id, fabric_id, kind, namespace, name, spec, labels, annotations,
	       spec_hash, state, observed_status, observed_version,
	       last_applied_at, last_synced_at, sync_error, auto_sync, created_at, updated_at`

func scanResource(row interface{ Scan(...any) error }) (*ManagedResource, error) {
	res := &ManagedResource{}
	err := row.Scan(
		&res.ID,
		&res.FabricID,
		&res.Kind,
		&res.Namespace,
		&res.Name,
		&res.Spec,
		&res.Labels,
		&res.Annotations,
		&res.SpecHash,
		&res.State,
		&res.ObservedStatus,
		&res.ObservedVersion,
		&res.LastAppliedAt,
		&res.LastSyncedAt,
		&res.SyncError,
		&res.AutoSync,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetManagedResource retrieves a resource by its identity within a fabric.
func (s *SQLiteStore) GetManagedResource(ctx context.Context, fabricID string, key ResourceKey) (*ManagedResource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM managed_resources
		WHERE fabric_id = ? AND kind = ? AND namespace = ? AND name = ?
	`

	res, err := scanResource(s.db.QueryRowContext(ctx, query, fabricID, key.Kind, key.Namespace, key.Name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("managed resource not found: %s/%s/%s/%s", fabricID, key.Kind, key.Namespace, key.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get managed resource: %w", err)
	}

	return res, nil
}

// ListManagedResources lists all resources tracked for a fabric.
func (s *SQLiteStore) ListManagedResources(ctx context.Context, fabricID string) ([]*ManagedResource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM managed_resources
		WHERE fabric_id = ?
		ORDER BY kind, namespace, name
	`

	rows, err := s.db.QueryContext(ctx, query, fabricID)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed resources: %w", err)
	}
	defer rows.Close()

	resources := []*ManagedResource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan managed resource: %w", err)
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating managed resources: %w", err)
	}

	return resources, nil
}

// ReconcileFabricResources upserts the desired resource set for a fabric and marks
// everything previously tracked but absent from the set as orphaned. All writes
// happen in one transaction so an aborted attempt leaves prior state intact.
func (s *SQLiteStore) ReconcileFabricResources(ctx context.Context, fabricID string, desired []*ManagedResource) (*ReconcileStats, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stats := &ReconcileStats{}
	keepIDs := make([]string, 0, len(desired))

	for _, res := range desired {
		var existingID string
		var existingHash string
		var existingState ResourceSyncState
		var appliedVersion sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT id, spec_hash, state, observed_version FROM managed_resources WHERE fabric_id = ? AND kind = ? AND namespace = ? AND name = ?`,
			fabricID, res.Kind, res.Namespace, res.Name,
		).Scan(&existingID, &existingHash, &existingState, &appliedVersion)

		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO managed_resources (
					id, fabric_id, kind, namespace, name, spec, labels, annotations,
					spec_hash, state, last_synced_at, auto_sync, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			`,
				res.ID, fabricID, res.Kind, res.Namespace, res.Name,
				res.Spec, res.Labels, res.Annotations,
				res.SpecHash, ResourceStateDraft, res.LastSyncedAt, res.AutoSync,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to insert managed resource: %w", err)
			}
			keepIDs = append(keepIDs, res.ID)
			stats.Created++

		case err != nil:
			return nil, fmt.Errorf("failed to look up managed resource: %w", err)

		default:
			// Existing resource: refresh spec and clear a stale orphan mark. A spec
			// that changed since the last apply is drift until reapplied; a spec
			// reverted to the version the applier last reported is drift resolved.
			// Without an applier report the reversion cannot be proven, so the
			// resource stays drifted until the next apply.
			newState := existingState
			switch {
			case existingState == ResourceStateOrphaned:
				newState = ResourceStateDraft
			case existingState == ResourceStateCommitted && existingHash != res.SpecHash:
				newState = ResourceStateDrifted
			case existingState == ResourceStateDrifted && appliedVersion.Valid && appliedVersion.String == res.SpecHash:
				newState = ResourceStateCommitted
			}
			query := `
				UPDATE managed_resources
				SET spec = ?, labels = ?, annotations = ?, spec_hash = ?,
					state = ?, last_synced_at = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`
			_, err = tx.ExecContext(ctx, query,
				res.Spec, res.Labels, res.Annotations, res.SpecHash,
				newState, res.LastSyncedAt, existingID,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to update managed resource: %w", err)
			}
			res.ID = existingID
			keepIDs = append(keepIDs, existingID)
			stats.Updated++
		}
	}

	// Orphan everything not in the desired set. Orphaned resources are retained,
	// never deleted here; removal requires an explicit prune.
	orphanQuery := `UPDATE managed_resources SET state = 'orphaned', updated_at = CURRENT_TIMESTAMP WHERE fabric_id = ? AND state != 'orphaned'`
	args := []any{fabricID}
	if len(keepIDs) > 0 {
		orphanQuery += ` AND id NOT IN (?` + repeatPlaceholder(len(keepIDs)-1) + `)`
		for _, id := range keepIDs {
			args = append(args, id)
		}
	}

	result, err := tx.ExecContext(ctx, orphanQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to mark orphaned resources: %w", err)
	}

	orphaned, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	stats.Orphaned = int(orphaned)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconcile: %w", err)
	}

	return stats, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// SetResourceSyncError records or clears the engine-owned sync error of a resource.
func (s *SQLiteStore) SetResourceSyncError(ctx context.Context, id string, errMsg *string) error {
	query := `UPDATE managed_resources SET sync_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to set resource sync error: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("managed resource not found: %s", id)
	}

	return nil
}

// SetResourceObserved records the observed status reported by the external applier.
func (s *SQLiteStore) SetResourceObserved(ctx context.Context, id string, status, version *string, appliedAt *time.Time) error {
	query := `
		UPDATE managed_resources
		SET observed_status = ?, observed_version = ?,
			last_applied_at = COALESCE(?, last_applied_at),
			state = CASE WHEN state = 'draft' AND ? IS NOT NULL THEN 'committed' ELSE state END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, version, appliedAt, version, id)
	if err != nil {
		return fmt.Errorf("failed to set resource observed state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("managed resource not found: %s", id)
	}

	return nil
}

// PruneResource deletes a resource record. Used only by the explicit prune
// operation; the reconcile pass never deletes.
func (s *SQLiteStore) PruneResource(ctx context.Context, id string) error {
	query := `DELETE FROM managed_resources WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to prune resource: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("managed resource not found: %s", id)
	}

	return nil
}

// AppendIngestionRecord appends a new ingestion audit entry.
func (s *SQLiteStore) AppendIngestionRecord(ctx context.Context, rec *IngestionRecord) error {
	query := `
		INSERT INTO ingestion_records (fabric_id, source_path, dest_path, outcome, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.FabricID,
		rec.SourcePath,
		rec.DestPath,
		rec.Outcome,
		rec.Reason,
		rec.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append ingestion record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get ingestion record ID: %w", err)
	}

	rec.ID = id
	return nil
}

// ListIngestionRecords retrieves ingestion records for a fabric with pagination.
func (s *SQLiteStore) ListIngestionRecords(ctx context.Context, fabricID string, limit, offset int) ([]*IngestionRecord, error) {
	query := `
		SELECT id, fabric_id, source_path, dest_path, outcome, reason, timestamp
		FROM ingestion_records
		WHERE fabric_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, fabricID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion records: %w", err)
	}
	defer rows.Close()

	records := []*IngestionRecord{}
	for rows.Next() {
		rec := &IngestionRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.FabricID,
			&rec.SourcePath,
			&rec.DestPath,
			&rec.Outcome,
			&rec.Reason,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingestion record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingestion records: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
