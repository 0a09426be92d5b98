package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/machshop/extension-orchestrator/pkg/compat"
	"github.com/machshop/extension-orchestrator/pkg/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
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

// Migrate runs the embedded schema migrations.
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

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// --- compatibility matrix -------------------------------------------------

// GetCompatibilityRecord retrieves the row for one extension version.
// Returns nil without error when no row exists.
func (s *SQLiteStore) GetCompatibilityRecord(ctx context.Context, extensionID, version string) (*compat.Record, error) {
	query := `
		SELECT extension_id, extension_version, mes_version_min, mes_version_max,
		       platform_capabilities, tested, test_status, updated_at
		FROM compatibility_records
		WHERE extension_id = ? AND extension_version = ?
	`

	record := &compat.Record{}
	var maxVersion, testStatus sql.NullString
	var capabilities string
	err := s.db.QueryRowContext(ctx, query, extensionID, version).Scan(
		&record.ExtensionID,
		&record.ExtensionVersion,
		&record.MESVersionMin,
		&maxVersion,
		&capabilities,
		&record.Tested,
		&testStatus,
		&record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compatibility record: %w", err)
	}

	record.MESVersionMax = maxVersion.String
	record.TestStatus = testStatus.String
	if err := json.Unmarshal([]byte(capabilities), &record.PlatformCapabilities); err != nil {
		return nil, fmt.Errorf("failed to decode platform capabilities: %w", err)
	}
	return record, nil
}

// ListCompatibilityRecords lists every recorded version of an extension.
func (s *SQLiteStore) ListCompatibilityRecords(ctx context.Context, extensionID string) ([]*compat.Record, error) {
	query := `
		SELECT extension_id, extension_version, mes_version_min, mes_version_max,
		       platform_capabilities, tested, test_status, updated_at
		FROM compatibility_records
		WHERE extension_id = ?
		ORDER BY extension_version ASC
	`

	rows, err := s.db.QueryContext(ctx, query, extensionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compatibility records: %w", err)
	}
	defer rows.Close()

	records := []*compat.Record{}
	for rows.Next() {
		record := &compat.Record{}
		var maxVersion, testStatus sql.NullString
		var capabilities string
		err := rows.Scan(
			&record.ExtensionID,
			&record.ExtensionVersion,
			&record.MESVersionMin,
			&maxVersion,
			&capabilities,
			&record.Tested,
			&testStatus,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compatibility record: %w", err)
		}
		record.MESVersionMax = maxVersion.String
		record.TestStatus = testStatus.String
		if err := json.Unmarshal([]byte(capabilities), &record.PlatformCapabilities); err != nil {
			return nil, fmt.Errorf("failed to decode platform capabilities: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compatibility records: %w", err)
	}

	return records, nil
}

// UpsertCompatibilityRecord inserts or replaces one extension version row.
func (s *SQLiteStore) UpsertCompatibilityRecord(ctx context.Context, record *compat.Record) error {
	capabilities, err := encodeJSON(record.PlatformCapabilities, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode platform capabilities: %w", err)
	}

	query := `
		INSERT INTO compatibility_records (
			extension_id, extension_version, mes_version_min, mes_version_max,
			platform_capabilities, tested, test_status, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(extension_id, extension_version) DO UPDATE SET
			mes_version_min = excluded.mes_version_min,
			mes_version_max = excluded.mes_version_max,
			platform_capabilities = excluded.platform_capabilities,
			tested = excluded.tested,
			test_status = excluded.test_status,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ExtensionID,
		record.ExtensionVersion,
		record.MESVersionMin,
		nullable(record.MESVersionMax),
		capabilities,
		record.Tested,
		nullable(record.TestStatus),
		record.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert compatibility record: %w", err)
	}
	return nil
}

// GetDependencyCompatibility retrieves the declared relation between one
// source extension version and a target extension. Returns nil without
// error when no declaration exists.
func (s *SQLiteStore) GetDependencyCompatibility(ctx context.Context, sourceID, sourceVersion, targetID string) (*compat.DependencyRecord, error) {
	query := `
		SELECT source_extension_id, source_version, target_extension_id,
		       compatibility, target_version_min, target_version_max, conflict_type
		FROM dependency_compatibility
		WHERE source_extension_id = ? AND source_version = ? AND target_extension_id = ?
	`

	record := &compat.DependencyRecord{}
	var minVersion, maxVersion, conflictType sql.NullString
	err := s.db.QueryRowContext(ctx, query, sourceID, sourceVersion, targetID).Scan(
		&record.SourceExtensionID,
		&record.SourceVersion,
		&record.TargetExtensionID,
		&record.Compatibility,
		&minVersion,
		&maxVersion,
		&conflictType,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dependency compatibility: %w", err)
	}

	record.TargetVersionMin = minVersion.String
	record.TargetVersionMax = maxVersion.String
	record.ConflictType = conflictType.String
	return record, nil
}

// UpsertDependencyCompatibility inserts or replaces one pairwise declaration.
func (s *SQLiteStore) UpsertDependencyCompatibility(ctx context.Context, record *compat.DependencyRecord) error {
	query := `
		INSERT INTO dependency_compatibility (
			source_extension_id, source_version, target_extension_id,
			compatibility, target_version_min, target_version_max, conflict_type
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_extension_id, source_version, target_extension_id) DO UPDATE SET
			compatibility = excluded.compatibility,
			target_version_min = excluded.target_version_min,
			target_version_max = excluded.target_version_max,
			conflict_type = excluded.conflict_type
	`

	_, err := s.db.ExecContext(ctx, query,
		record.SourceExtensionID,
		record.SourceVersion,
		record.TargetExtensionID,
		record.Compatibility,
		nullable(record.TargetVersionMin),
		nullable(record.TargetVersionMax),
		nullable(record.ConflictType),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert dependency compatibility: %w", err)
	}
	return nil
}

// --- deployments ----------------------------------------------------------

// CreateDeployment inserts a new deployment history record.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, record *deploy.Record) error {
	preChecks, postChecks, phases, err := encodeDeploymentBlobs(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (
			id, site_id, extension_id, deployment_type, rollout_strategy,
			source_version, target_version, status, pre_checks, post_checks,
			phases, error, error_code, rolled_back_from, initiated_by,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.SiteID,
		record.ExtensionID,
		record.DeploymentType,
		record.RolloutStrategy,
		nullable(record.SourceVersion),
		record.TargetVersion,
		record.Status,
		preChecks,
		postChecks,
		phases,
		nullable(record.Error),
		nullable(record.ErrorCode),
		nullable(record.RolledBackFrom),
		nullable(record.InitiatedBy),
		record.StartedAt,
		record.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// UpdateDeployment rewrites an existing deployment record.
func (s *SQLiteStore) UpdateDeployment(ctx context.Context, record *deploy.Record) error {
	preChecks, postChecks, phases, err := encodeDeploymentBlobs(record)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployments
		SET status = ?, pre_checks = ?, post_checks = ?, phases = ?,
		    error = ?, error_code = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Status,
		preChecks,
		postChecks,
		phases,
		nullable(record.Error),
		nullable(record.ErrorCode),
		record.CompletedAt,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", record.ID)
	}
	return nil
}

// GetDeployment retrieves one deployment record by ID. Returns nil without
// error when no row exists.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*deploy.Record, error) {
	query := `
		SELECT id, site_id, extension_id, deployment_type, rollout_strategy,
		       source_version, target_version, status, pre_checks, post_checks,
		       phases, error, error_code, rolled_back_from, initiated_by,
		       started_at, completed_at
		FROM deployments
		WHERE id = ?
	`

	record, err := scanDeployment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return record, nil
}

// ListDeployments lists deployment history, newest first. Empty siteID or
// extensionID matches everything.
func (s *SQLiteStore) ListDeployments(ctx context.Context, siteID, extensionID string, limit, offset int) ([]*deploy.Record, error) {
	query := `
		SELECT id, site_id, extension_id, deployment_type, rollout_strategy,
		       source_version, target_version, status, pre_checks, post_checks,
		       phases, error, error_code, rolled_back_from, initiated_by,
		       started_at, completed_at
		FROM deployments
		WHERE (? = '' OR site_id = ?)
		  AND (? = '' OR extension_id = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, siteID, siteID, extensionID, extensionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	records := []*deploy.Record{}
	for rows.Next() {
		record, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return records, nil
}

// --- site extension state -------------------------------------------------

// UpsertSiteExtension inserts or replaces the per-site installation row.
func (s *SQLiteStore) UpsertSiteExtension(ctx context.Context, status *deploy.SiteExtensionStatus) error {
	query := `
		INSERT INTO site_extensions (
			site_id, extension_id, version, enabled, deployment_status,
			health_status, config_hash, error_message, deployed_at,
			last_health_check_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, extension_id) DO UPDATE SET
			version = excluded.version,
			enabled = excluded.enabled,
			deployment_status = excluded.deployment_status,
			health_status = excluded.health_status,
			config_hash = excluded.config_hash,
			error_message = excluded.error_message,
			deployed_at = excluded.deployed_at,
			last_health_check_at = excluded.last_health_check_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		status.SiteID,
		status.ExtensionID,
		status.Version,
		status.Enabled,
		status.Deployment,
		status.Health,
		nullable(status.ConfigHash),
		nullable(status.ErrorMessage),
		status.DeployedAt,
		status.LastHealthCheckAt,
		status.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert site extension: %w", err)
	}
	return nil
}

// GetSiteExtension retrieves one site extension row. Returns nil without
// error when the extension is not deployed to the site.
func (s *SQLiteStore) GetSiteExtension(ctx context.Context, siteID, extensionID string) (*deploy.SiteExtensionStatus, error) {
	query := `
		SELECT site_id, extension_id, version, enabled, deployment_status,
		       health_status, config_hash, error_message, deployed_at,
		       last_health_check_at, updated_at
		FROM site_extensions
		WHERE site_id = ? AND extension_id = ?
	`

	status := &deploy.SiteExtensionStatus{}
	var configHash, errMsg sql.NullString
	var deployedAt, lastCheckAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, siteID, extensionID).Scan(
		&status.SiteID,
		&status.ExtensionID,
		&status.Version,
		&status.Enabled,
		&status.Deployment,
		&status.Health,
		&configHash,
		&errMsg,
		&deployedAt,
		&lastCheckAt,
		&status.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site extension: %w", err)
	}

	status.ConfigHash = configHash.String
	status.ErrorMessage = errMsg.String
	status.DeployedAt = timePtr(deployedAt)
	status.LastHealthCheckAt = timePtr(lastCheckAt)
	return status, nil
}

// ListSiteExtensions lists every extension deployed to a site.
func (s *SQLiteStore) ListSiteExtensions(ctx context.Context, siteID string) ([]*deploy.SiteExtensionStatus, error) {
	query := `
		SELECT site_id, extension_id, version, enabled, deployment_status,
		       health_status, config_hash, error_message, deployed_at,
		       last_health_check_at, updated_at
		FROM site_extensions
		WHERE site_id = ?
		ORDER BY extension_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list site extensions: %w", err)
	}
	defer rows.Close()

	statuses := []*deploy.SiteExtensionStatus{}
	for rows.Next() {
		status := &deploy.SiteExtensionStatus{}
		var configHash, errMsg sql.NullString
		var deployedAt, lastCheckAt sql.NullTime
		err := rows.Scan(
			&status.SiteID,
			&status.ExtensionID,
			&status.Version,
			&status.Enabled,
			&status.Deployment,
			&status.Health,
			&configHash,
			&errMsg,
			&deployedAt,
			&lastCheckAt,
			&status.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site extension: %w", err)
		}
		status.ConfigHash = configHash.String
		status.ErrorMessage = errMsg.String
		status.DeployedAt = timePtr(deployedAt)
		status.LastHealthCheckAt = timePtr(lastCheckAt)
		statuses = append(statuses, status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating site extensions: %w", err)
	}

	return statuses, nil
}

// --- configuration --------------------------------------------------------

// UpsertConfiguration inserts or replaces the layered configuration row.
func (s *SQLiteStore) UpsertConfiguration(ctx context.Context, cfg *deploy.Configuration) error {
	defaults, err := encodeJSON(cfg.ExtensionDefaults, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode extension defaults: %w", err)
	}
	enterprise, err := encodeJSON(cfg.EnterpriseSettings, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode enterprise settings: %w", err)
	}
	overrides, err := encodeJSON(cfg.SiteOverrides, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode site overrides: %w", err)
	}
	effective, err := encodeJSON(cfg.Effective, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode effective configuration: %w", err)
	}

	query := `
		INSERT INTO site_extension_configs (
			site_id, extension_id, extension_defaults, enterprise_settings,
			site_overrides, effective, config_hash, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, extension_id) DO UPDATE SET
			extension_defaults = excluded.extension_defaults,
			enterprise_settings = excluded.enterprise_settings,
			site_overrides = excluded.site_overrides,
			effective = excluded.effective,
			config_hash = excluded.config_hash,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		cfg.SiteID,
		cfg.ExtensionID,
		defaults,
		enterprise,
		overrides,
		effective,
		cfg.ConfigHash,
		cfg.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert configuration: %w", err)
	}
	return nil
}

// GetConfiguration retrieves the layered configuration row. Returns nil
// without error when none has been stored.
func (s *SQLiteStore) GetConfiguration(ctx context.Context, siteID, extensionID string) (*deploy.Configuration, error) {
	query := `
		SELECT site_id, extension_id, extension_defaults, enterprise_settings,
		       site_overrides, effective, config_hash, updated_at
		FROM site_extension_configs
		WHERE site_id = ? AND extension_id = ?
	`

	cfg := &deploy.Configuration{}
	var defaults, enterprise, overrides, effective string
	err := s.db.QueryRowContext(ctx, query, siteID, extensionID).Scan(
		&cfg.SiteID,
		&cfg.ExtensionID,
		&defaults,
		&enterprise,
		&overrides,
		&effective,
		&cfg.ConfigHash,
		&cfg.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	if err := json.Unmarshal([]byte(defaults), &cfg.ExtensionDefaults); err != nil {
		return nil, fmt.Errorf("failed to decode extension defaults: %w", err)
	}
	if err := json.Unmarshal([]byte(enterprise), &cfg.EnterpriseSettings); err != nil {
		return nil, fmt.Errorf("failed to decode enterprise settings: %w", err)
	}
	if err := json.Unmarshal([]byte(overrides), &cfg.SiteOverrides); err != nil {
		return nil, fmt.Errorf("failed to decode site overrides: %w", err)
	}
	if err := json.Unmarshal([]byte(effective), &cfg.Effective); err != nil {
		return nil, fmt.Errorf("failed to decode effective configuration: %w", err)
	}
	return cfg, nil
}

// --- health checks --------------------------------------------------------

// InsertHealthCheck appends one probe outcome.
func (s *SQLiteStore) InsertHealthCheck(ctx context.Context, result *deploy.HealthCheckResult) error {
	query := `
		INSERT INTO health_checks (site_id, extension_id, check_type, status, message, duration_ms, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		result.SiteID,
		result.ExtensionID,
		result.CheckType,
		result.Status,
		nullable(result.Message),
		result.DurationMS,
		result.CheckedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert health check: %w", err)
	}
	return nil
}

// ListHealthChecks lists recent probe outcomes, newest first.
func (s *SQLiteStore) ListHealthChecks(ctx context.Context, siteID, extensionID string, limit int) ([]*deploy.HealthCheckResult, error) {
	query := `
		SELECT site_id, extension_id, check_type, status, message, duration_ms, checked_at
		FROM health_checks
		WHERE site_id = ? AND extension_id = ?
		ORDER BY checked_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, siteID, extensionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list health checks: %w", err)
	}
	defer rows.Close()

	results := []*deploy.HealthCheckResult{}
	for rows.Next() {
		result := &deploy.HealthCheckResult{}
		var message sql.NullString
		err := rows.Scan(
			&result.SiteID,
			&result.ExtensionID,
			&result.CheckType,
			&result.Status,
			&message,
			&result.DurationMS,
			&result.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health check: %w", err)
		}
		result.Message = message.String
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health checks: %w", err)
	}

	return results, nil
}

// --- helpers --------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*deploy.Record, error) {
	record := &deploy.Record{}
	var sourceVersion, errMsg, errCode, rolledBackFrom, initiatedBy sql.NullString
	var preChecks, postChecks, phases string
	err := row.Scan(
		&record.ID,
		&record.SiteID,
		&record.ExtensionID,
		&record.DeploymentType,
		&record.RolloutStrategy,
		&sourceVersion,
		&record.TargetVersion,
		&record.Status,
		&preChecks,
		&postChecks,
		&phases,
		&errMsg,
		&errCode,
		&rolledBackFrom,
		&initiatedBy,
		&record.StartedAt,
		&record.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	record.SourceVersion = sourceVersion.String
	record.Error = errMsg.String
	record.ErrorCode = errCode.String
	record.RolledBackFrom = rolledBackFrom.String
	record.InitiatedBy = initiatedBy.String
	if err := json.Unmarshal([]byte(preChecks), &record.PreChecks); err != nil {
		return nil, fmt.Errorf("failed to decode pre checks: %w", err)
	}
	if err := json.Unmarshal([]byte(postChecks), &record.PostChecks); err != nil {
		return nil, fmt.Errorf("failed to decode post checks: %w", err)
	}
	if err := json.Unmarshal([]byte(phases), &record.Phases); err != nil {
		return nil, fmt.Errorf("failed to decode phases: %w", err)
	}
	return record, nil
}

func encodeDeploymentBlobs(record *deploy.Record) (preChecks, postChecks, phases string, err error) {
	preChecks, err = encodeJSON(record.PreChecks, "[]")
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode pre checks: %w", err)
	}
	postChecks, err = encodeJSON(record.PostChecks, "[]")
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode post checks: %w", err)
	}
	phases, err = encodeJSON(record.Phases, "[]")
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode phases: %w", err)
	}
	return preChecks, postChecks, phases, nil
}

// encodeJSON marshals v, substituting empty for nil slices and maps.
func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}
