// Package deploy implements per-site extension deployment: orchestrated
// rollouts with pre and post checks, enable/disable, rollback, health
// probing and layered site configuration.
package deploy

import (
	"context"
	"time"
)

// EnabledStatus says whether a deployed extension is active on a site.
type EnabledStatus string

const (
	EnabledStatusEnabled  EnabledStatus = "enabled"
	EnabledStatusDisabled EnabledStatus = "disabled"
)

// DeploymentStatus is the lifecycle state of a deployment record.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusInProgress DeploymentStatus = "in_progress"
	DeploymentStatusCompleted  DeploymentStatus = "completed"
	DeploymentStatusFailed     DeploymentStatus = "failed"
	DeploymentStatusRolledBack DeploymentStatus = "rolled_back"
)

// Terminal reports whether the status is final.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentStatusCompleted, DeploymentStatusFailed, DeploymentStatusRolledBack:
		return true
	}
	return false
}

// HealthStatus is the probed health of a site extension.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// DeploymentType classifies what a deployment does to the site extension.
type DeploymentType string

const (
	DeploymentTypeInstall   DeploymentType = "install"
	DeploymentTypeUpgrade   DeploymentType = "upgrade"
	DeploymentTypeDowngrade DeploymentType = "downgrade"
	DeploymentTypeRollback  DeploymentType = "rollback"
	DeploymentTypeHotfix    DeploymentType = "hotfix"
)

// RolloutStrategy selects how a deployment is phased onto a site.
type RolloutStrategy string

const (
	RolloutImmediate RolloutStrategy = "immediate"
	RolloutStaged    RolloutStrategy = "staged"
	RolloutCanary    RolloutStrategy = "canary"
	RolloutBlueGreen RolloutStrategy = "blue_green"
)

// SiteExtensionStatus is the per-site installation row for one extension.
// ErrorMessage carries the last deployment failure and is cleared on a
// successful deployment.
type SiteExtensionStatus struct {
	SiteID            string           `json:"site_id"`
	ExtensionID       string           `json:"extension_id"`
	Version           string           `json:"version"`
	Enabled           EnabledStatus    `json:"enabled"`
	Deployment        DeploymentStatus `json:"deployment_status"`
	Health            HealthStatus     `json:"health_status"`
	ConfigHash        string           `json:"config_hash,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	DeployedAt        *time.Time       `json:"deployed_at,omitempty"`
	LastHealthCheckAt *time.Time       `json:"last_health_check_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// CheckRecord is the outcome of one pre or post deployment check.
type CheckRecord struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// PhaseRecord is one executed rollout phase.
type PhaseRecord struct {
	Name        string     `json:"name"`
	Percentage  int        `json:"percentage"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Record is the durable history entry for one deployment attempt.
type Record struct {
	ID              string           `json:"id"`
	SiteID          string           `json:"site_id"`
	ExtensionID     string           `json:"extension_id"`
	DeploymentType  DeploymentType   `json:"deployment_type"`
	RolloutStrategy RolloutStrategy  `json:"rollout_strategy"`
	SourceVersion   string           `json:"source_version,omitempty"`
	TargetVersion   string           `json:"target_version"`
	Status          DeploymentStatus `json:"status"`
	PreChecks       []CheckRecord    `json:"pre_checks,omitempty"`
	PostChecks      []CheckRecord    `json:"post_checks,omitempty"`
	Phases          []PhaseRecord    `json:"phases,omitempty"`
	Error           string           `json:"error,omitempty"`
	ErrorCode       string           `json:"error_code,omitempty"`
	RolledBackFrom  string           `json:"rolled_back_from,omitempty"`
	InitiatedBy     string           `json:"initiated_by,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Request asks for one extension deployment to one site. The check and
// rollback behaviors are opt-in per request: a request without
// PreDeploymentChecks skips the compatibility and conflict gates, and
// EnableAutoRollback controls whether a failed post-deployment check
// restores the previous site state.
type Request struct {
	SiteID               string          `json:"site_id" validate:"required"`
	ExtensionID          string          `json:"extension_id" validate:"required"`
	TargetVersion        string          `json:"target_version" validate:"required"`
	DeploymentType       DeploymentType  `json:"deployment_type" validate:"required,oneof=install upgrade downgrade rollback hotfix"`
	RolloutStrategy      RolloutStrategy `json:"rollout_strategy" validate:"required,oneof=immediate staged canary blue_green"`
	PreDeploymentChecks  bool            `json:"pre_deployment_checks"`
	PostDeploymentChecks bool            `json:"post_deployment_checks"`
	EnableAutoRollback   bool            `json:"enable_auto_rollback"`
	InitiatedBy          string          `json:"initiated_by,omitempty"`
}

// BulkRequest asks for the same deployment across several sites.
type BulkRequest struct {
	SiteIDs              []string        `json:"site_ids" validate:"required,min=1,dive,required"`
	ExtensionID          string          `json:"extension_id" validate:"required"`
	TargetVersion        string          `json:"target_version" validate:"required"`
	DeploymentType       DeploymentType  `json:"deployment_type" validate:"required,oneof=install upgrade downgrade rollback hotfix"`
	RolloutStrategy      RolloutStrategy `json:"rollout_strategy" validate:"required,oneof=immediate staged canary blue_green"`
	PreDeploymentChecks  bool            `json:"pre_deployment_checks"`
	PostDeploymentChecks bool            `json:"post_deployment_checks"`
	EnableAutoRollback   bool            `json:"enable_auto_rollback"`
	InitiatedBy          string          `json:"initiated_by,omitempty"`
}

// SiteOutcome is one site's result within a bulk deployment.
type SiteOutcome struct {
	SiteID       string  `json:"site_id"`
	DeploymentID string  `json:"deployment_id,omitempty"`
	Succeeded    bool    `json:"succeeded"`
	Error        string  `json:"error,omitempty"`
	Record       *Record `json:"record,omitempty"`
}

// BulkResult aggregates a bulk deployment. One site failing never stops
// the remaining sites.
type BulkResult struct {
	ExtensionID   string        `json:"extension_id"`
	TargetVersion string        `json:"target_version"`
	Outcomes      []SiteOutcome `json:"outcomes"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// HealthCheckResult is one stored probe outcome.
type HealthCheckResult struct {
	SiteID      string       `json:"site_id"`
	ExtensionID string       `json:"extension_id"`
	CheckType   string       `json:"check_type"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	CheckedAt   time.Time    `json:"checked_at"`
}

// Configuration is the layered per-site configuration of an extension.
// Effective configuration merges defaults, then enterprise, then site
// overrides, with the later layer winning key by key.
type Configuration struct {
	SiteID             string         `json:"site_id"`
	ExtensionID        string         `json:"extension_id"`
	ExtensionDefaults  map[string]any `json:"extension_defaults,omitempty"`
	EnterpriseSettings map[string]any `json:"enterprise_settings,omitempty"`
	SiteOverrides      map[string]any `json:"site_overrides,omitempty"`
	Effective          map[string]any `json:"effective"`
	ConfigHash         string         `json:"config_hash"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Store is the persistence boundary the deployment service needs. Get
// lookups return nil (not an error) when no row exists.
type Store interface {
	CreateDeployment(ctx context.Context, record *Record) error
	UpdateDeployment(ctx context.Context, record *Record) error
	GetDeployment(ctx context.Context, id string) (*Record, error)
	ListDeployments(ctx context.Context, siteID, extensionID string, limit, offset int) ([]*Record, error)

	UpsertSiteExtension(ctx context.Context, status *SiteExtensionStatus) error
	GetSiteExtension(ctx context.Context, siteID, extensionID string) (*SiteExtensionStatus, error)
	ListSiteExtensions(ctx context.Context, siteID string) ([]*SiteExtensionStatus, error)

	UpsertConfiguration(ctx context.Context, cfg *Configuration) error
	GetConfiguration(ctx context.Context, siteID, extensionID string) (*Configuration, error)

	InsertHealthCheck(ctx context.Context, result *HealthCheckResult) error
	ListHealthChecks(ctx context.Context, siteID, extensionID string, limit int) ([]*HealthCheckResult, error)
}
