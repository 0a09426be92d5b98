package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/machshop/extension-orchestrator/pkg/compat"
	"github.com/machshop/extension-orchestrator/pkg/conflict"
	"github.com/machshop/extension-orchestrator/pkg/extension"
	"github.com/machshop/extension-orchestrator/pkg/telemetry"
)

// finalizeAttempts is how many times the completed state is written before
// the deployment is reported as failed finalization.
const finalizeAttempts = 3

// CompatibilityChecker gates deployments on the compatibility matrix.
type CompatibilityChecker interface {
	CheckCompatibility(ctx context.Context, extensionID, version string, compatCtx *extension.CompatibilityContext) (*compat.CheckResult, error)
}

// ConflictDetector gates deployments on structural conflict analysis.
type ConflictDetector interface {
	DetectConflicts(ctx context.Context, manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) (*conflict.Result, error)
}

// ManifestSource resolves the manifest for an extension version, typically
// from the extension registry.
type ManifestSource interface {
	GetManifest(ctx context.Context, extensionID, version string) (*extension.Manifest, error)
}

// SiteDirectory resolves the live compatibility context of a site: its MES
// version, platform capabilities and installed extensions.
type SiteDirectory interface {
	SiteContext(ctx context.Context, siteID string) (*extension.CompatibilityContext, error)
}

// Options configures a Service.
type Options struct {
	Store     Store
	Compat    CompatibilityChecker
	Conflicts ConflictDetector
	Manifests ManifestSource
	Sites     SiteDirectory
	Prober    Prober

	// PhasePause is the bake time between rollout phases. Zero means no
	// pause, which tests rely on.
	PhasePause time.Duration

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Service orchestrates per-site extension deployments. Deployments for the
// same (site, extension) pair are serialized; different pairs proceed
// concurrently.
type Service struct {
	store      Store
	compat     CompatibilityChecker
	conflicts  ConflictDetector
	manifests  ManifestSource
	sites      SiteDirectory
	prober     Prober
	validate   *validator.Validate
	locks      *lockTable
	phasePause time.Duration
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	now        func() time.Time
}

// NewService creates a deployment service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Compat == nil {
		return nil, fmt.Errorf("compatibility checker is required")
	}
	if opts.Conflicts == nil {
		return nil, fmt.Errorf("conflict detector is required")
	}
	if opts.Manifests == nil {
		return nil, fmt.Errorf("manifest source is required")
	}
	if opts.Sites == nil {
		return nil, fmt.Errorf("site directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.Nop()
	}
	return &Service{
		store:      opts.Store,
		compat:     opts.Compat,
		conflicts:  opts.Conflicts,
		manifests:  opts.Manifests,
		sites:      opts.Sites,
		prober:     opts.Prober,
		validate:   validator.New(),
		locks:      newLockTable(),
		phasePause: opts.PhasePause,
		log:        log.NewComponentLogger("deploy"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		now:        time.Now,
	}, nil
}

// guardSite enforces the tenancy scope before anything else touches state.
func (s *Service) guardSite(siteID string, tenant *extension.MultiTenancyContext) error {
	if tenant == nil || !tenant.AllowsSite(siteID) {
		return extension.NewAccessDeniedError(
			fmt.Sprintf("tenancy context does not permit operations on site %s", siteID), nil).
			WithCode(extension.CodeSiteScopeViolation).WithSite(siteID)
	}
	return nil
}

// DeployExtensionToSite runs the full deployment pipeline for one site:
// tenancy gate, per-pair serialization, phased rollout and durable
// history. Pre-deployment gates, post-deployment health verification and
// automatic rollback run when the request asks for them. The returned
// record is persisted even when the deployment fails.
func (s *Service) DeployExtensionToSite(ctx context.Context, req *Request, tenant *extension.MultiTenancyContext) (*Record, error) {
	if req == nil {
		return nil, extension.NewValidationError("deployment request is required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, extension.NewValidationError("invalid deployment request", err).
			WithCode(extension.CodeInvalidRequest)
	}
	if err := s.guardSite(req.SiteID, tenant); err != nil {
		return nil, err
	}

	key := lockKey(req.SiteID, req.ExtensionID)
	if !s.locks.TryAcquire(key) {
		return nil, extension.NewDeploymentError(
			fmt.Sprintf("a deployment of %s to site %s is already in progress", req.ExtensionID, req.SiteID), nil).
			WithCode(extension.CodeDeploymentInProgress).WithSite(req.SiteID).WithExtension(req.ExtensionID)
	}
	defer s.locks.Release(key)

	existing, err := s.store.GetSiteExtension(ctx, req.SiteID, req.ExtensionID)
	if err != nil {
		return nil, extension.NewInternalError("site extension lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(req.SiteID).WithExtension(req.ExtensionID)
	}
	if existing != nil && existing.Deployment == DeploymentStatusInProgress {
		return nil, extension.NewDeploymentError(
			fmt.Sprintf("a deployment of %s to site %s is already in progress", req.ExtensionID, req.SiteID), nil).
			WithCode(extension.CodeDeploymentInProgress).WithSite(req.SiteID).WithExtension(req.ExtensionID)
	}

	record := &Record{
		ID:              uuid.New().String(),
		SiteID:          req.SiteID,
		ExtensionID:     req.ExtensionID,
		DeploymentType:  req.DeploymentType,
		RolloutStrategy: req.RolloutStrategy,
		TargetVersion:   req.TargetVersion,
		Status:          DeploymentStatusInProgress,
		InitiatedBy:     req.InitiatedBy,
		StartedAt:       s.now(),
	}
	if existing != nil {
		record.SourceVersion = existing.Version
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartDeploymentSpan(ctx, record.ID, req.SiteID, req.ExtensionID)
		defer span.End()
	}

	if err := s.store.CreateDeployment(ctx, record); err != nil {
		return nil, extension.NewInternalError("deployment record creation failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(req.SiteID).WithExtension(req.ExtensionID)
	}
	s.metrics.RecordDeploymentStarted(string(req.RolloutStrategy), string(req.DeploymentType))
	log := s.log.WithSiteID(req.SiteID).WithExtensionID(req.ExtensionID).WithDeploymentID(record.ID)
	log.Infof("deployment started: %s -> %s (%s, %s)",
		orNone(record.SourceVersion), req.TargetVersion, req.DeploymentType, req.RolloutStrategy)

	if req.PreDeploymentChecks {
		if err := s.runPreChecks(ctx, req, record); err != nil {
			s.markFailedRow(ctx, record, existing, err)
			return s.failDeployment(ctx, record, err)
		}
	}

	status := &SiteExtensionStatus{
		SiteID:      req.SiteID,
		ExtensionID: req.ExtensionID,
		Version:     req.TargetVersion,
		Enabled:     EnabledStatusDisabled,
		Deployment:  DeploymentStatusInProgress,
		Health:      HealthStatusUnknown,
		UpdatedAt:   s.now(),
	}
	if existing != nil {
		status.Enabled = existing.Enabled
		status.ConfigHash = existing.ConfigHash
	}
	if err := s.store.UpsertSiteExtension(ctx, status); err != nil {
		wrapped := extension.NewInternalError("site extension status update failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(req.SiteID).WithExtension(req.ExtensionID)
		return s.failDeployment(ctx, record, wrapped)
	}

	if err := s.executeRollout(ctx, record); err != nil {
		wrapped := extension.NewDeploymentError("rollout aborted", err).
			WithSite(req.SiteID).WithExtension(req.ExtensionID)
		s.restoreAfterFailure(context.WithoutCancel(ctx), record, existing, wrapped)
		return s.failDeployment(context.WithoutCancel(ctx), record, wrapped)
	}

	if req.PostDeploymentChecks {
		if err := s.runPostChecks(ctx, record); err != nil {
			if req.EnableAutoRollback {
				s.restoreAfterFailure(ctx, record, existing, err)
				s.metrics.RecordRollback("auto")
			} else {
				s.markFailedRow(ctx, record, nil, err)
			}
			return s.failDeployment(ctx, record, err)
		}
	}

	if err := s.finalize(ctx, record, status); err != nil {
		return s.failDeployment(ctx, record, err)
	}

	log.Infof("deployment completed in %dms", s.now().Sub(record.StartedAt).Milliseconds())
	return record, nil
}

// runPreChecks executes the compatibility and conflict gates, recording
// each as a pre-deployment check on the record.
func (s *Service) runPreChecks(ctx context.Context, req *Request, record *Record) error {
	siteCtx, err := s.sites.SiteContext(ctx, req.SiteID)
	if err != nil {
		return extension.NewInternalError("site context resolution failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(req.SiteID)
	}

	compatStarted := s.now()
	verdict, err := s.compat.CheckCompatibility(ctx, req.ExtensionID, req.TargetVersion, siteCtx)
	if err != nil {
		return err
	}
	check := CheckRecord{
		Name:       "compatibility",
		Passed:     verdict.Compatible,
		DurationMS: s.now().Sub(compatStarted).Milliseconds(),
	}
	if !verdict.Compatible {
		check.Message = summarizeFindings(verdict.Findings)
	}
	record.PreChecks = append(record.PreChecks, check)
	if !verdict.Compatible {
		return extension.NewCompatibilityError(
			fmt.Sprintf("compatibility check failed: %s", check.Message), nil).
			WithCode(extension.CodePreDeploymentCheckFailed).
			WithSite(req.SiteID).WithExtension(req.ExtensionID)
	}

	manifest, err := s.manifests.GetManifest(ctx, req.ExtensionID, req.TargetVersion)
	if err != nil {
		return extension.NewNotFoundError(
			fmt.Sprintf("manifest for %s@%s could not be resolved", req.ExtensionID, req.TargetVersion), err).
			WithExtension(req.ExtensionID)
	}

	conflictStarted := s.now()
	analysis, err := s.conflicts.DetectConflicts(ctx, manifest, siteCtx)
	if err != nil {
		return err
	}
	check = CheckRecord{
		Name:       "conflict-detection",
		Passed:     analysis.CanInstall,
		DurationMS: s.now().Sub(conflictStarted).Milliseconds(),
	}
	if !analysis.CanInstall {
		check.Message = fmt.Sprintf("%d blocking conflicts", len(analysis.Conflicts))
	}
	record.PreChecks = append(record.PreChecks, check)
	if !analysis.CanInstall {
		return extension.NewDeploymentError(
			fmt.Sprintf("conflict detection blocked the deployment: %s", check.Message), nil).
			WithCode(extension.CodePreDeploymentCheckFailed).
			WithSite(req.SiteID).WithExtension(req.ExtensionID).
			WithDetail("conflicts", analysis.Conflicts)
	}
	return nil
}

// runPostChecks probes the freshly deployed extension. An unhealthy result
// fails the deployment and triggers automatic rollback in the caller.
func (s *Service) runPostChecks(ctx context.Context, record *Record) error {
	for _, checkType := range []string{CheckTypeLiveness, CheckTypeReadiness} {
		result := s.runProbe(ctx, record.SiteID, record.ExtensionID, checkType)
		s.metrics.RecordHealthCheck(checkType, string(result.Status))
		check := CheckRecord{
			Name:       "health-" + checkType,
			Passed:     result.Status != HealthStatusUnhealthy,
			Message:    result.Message,
			DurationMS: result.DurationMS,
		}
		record.PostChecks = append(record.PostChecks, check)
		if !check.Passed {
			return extension.NewDeploymentError(
				fmt.Sprintf("%s probe reported unhealthy after rollout", checkType), nil).
				WithCode(extension.CodePostDeploymentCheckFailed).
				WithSite(record.SiteID).WithExtension(record.ExtensionID)
		}
	}
	return nil
}

// restoreAfterFailure puts the site row back to its pre-deployment state,
// recording the failure on the row. A fresh install that failed leaves
// the row marked failed and disabled.
func (s *Service) restoreAfterFailure(ctx context.Context, record *Record, previous *SiteExtensionStatus, cause error) {
	status := &SiteExtensionStatus{
		SiteID:      record.SiteID,
		ExtensionID: record.ExtensionID,
		Version:     record.TargetVersion,
		Enabled:     EnabledStatusDisabled,
		Deployment:  DeploymentStatusFailed,
		Health:      HealthStatusUnknown,
	}
	if previous != nil {
		*status = *previous
	}
	status.ErrorMessage = cause.Error()
	status.UpdatedAt = s.now()
	if err := s.store.UpsertSiteExtension(ctx, status); err != nil {
		s.log.WithSiteID(record.SiteID).WithExtensionID(record.ExtensionID).WithError(err).
			Error("failed to restore site extension state after deployment failure")
	}
}

// markFailedRow stamps the site row's deployment status failed with the
// failure message. Absent a prior row, the requested version is recorded
// disabled so the failed attempt is visible on the site.
func (s *Service) markFailedRow(ctx context.Context, record *Record, previous *SiteExtensionStatus, cause error) {
	status := &SiteExtensionStatus{
		SiteID:      record.SiteID,
		ExtensionID: record.ExtensionID,
		Version:     record.TargetVersion,
		Enabled:     EnabledStatusDisabled,
		Health:      HealthStatusUnknown,
	}
	if previous != nil {
		*status = *previous
	}
	status.Deployment = DeploymentStatusFailed
	status.ErrorMessage = cause.Error()
	status.UpdatedAt = s.now()
	if err := s.store.UpsertSiteExtension(ctx, status); err != nil {
		s.log.WithSiteID(record.SiteID).WithExtensionID(record.ExtensionID).WithError(err).
			Error("failed to mark site extension failed")
	}
}

// failDeployment persists the failed record and returns it with the error.
func (s *Service) failDeployment(ctx context.Context, record *Record, cause error) (*Record, error) {
	completed := s.now()
	record.Status = DeploymentStatusFailed
	record.Error = cause.Error()
	var classified *extension.Error
	if errors.As(cause, &classified) {
		record.ErrorCode = classified.Code
	}
	record.CompletedAt = &completed
	if err := s.store.UpdateDeployment(ctx, record); err != nil {
		s.log.WithDeploymentID(record.ID).WithError(err).
			Error("failed to persist failed deployment record")
	}
	s.metrics.RecordDeploymentCompleted(string(record.RolloutStrategy), string(DeploymentStatusFailed),
		completed.Sub(record.StartedAt))
	s.log.WithSiteID(record.SiteID).WithExtensionID(record.ExtensionID).
		WithDeploymentID(record.ID).WithError(cause).Error("deployment failed")
	return record, cause
}

// finalize writes the completed state. The site row write retries a few
// times so a transient store hiccup does not strand a finished rollout.
func (s *Service) finalize(ctx context.Context, record *Record, status *SiteExtensionStatus) error {
	completed := s.now()
	record.Status = DeploymentStatusCompleted
	record.CompletedAt = &completed

	status.Version = record.TargetVersion
	status.Enabled = EnabledStatusEnabled
	status.Deployment = DeploymentStatusCompleted
	status.Health = HealthStatusHealthy
	status.DeployedAt = &completed
	status.ErrorMessage = ""
	status.UpdatedAt = completed

	var lastErr error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		if lastErr = s.store.UpsertSiteExtension(ctx, status); lastErr == nil {
			break
		}
		s.log.WithDeploymentID(record.ID).WithError(lastErr).
			Warnf("finalization attempt %d/%d failed", attempt, finalizeAttempts)
	}
	if lastErr != nil {
		return extension.NewInternalError("deployment finalization failed", lastErr).
			WithCode(extension.CodeStoreFailure).WithSite(record.SiteID).WithExtension(record.ExtensionID)
	}

	if err := s.store.UpdateDeployment(ctx, record); err != nil {
		return extension.NewInternalError("deployment record update failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(record.SiteID).WithExtension(record.ExtensionID)
	}
	s.metrics.RecordDeploymentCompleted(string(record.RolloutStrategy), string(DeploymentStatusCompleted),
		completed.Sub(record.StartedAt))
	return nil
}

// BulkDeployExtensions deploys one extension version to many sites. Sites
// are processed in order and one failure never stops the rest; sites
// outside the tenancy scope fail individually with a scope violation.
func (s *Service) BulkDeployExtensions(ctx context.Context, req *BulkRequest, tenant *extension.MultiTenancyContext) (*BulkResult, error) {
	if req == nil {
		return nil, extension.NewValidationError("bulk deployment request is required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, extension.NewValidationError("invalid bulk deployment request", err).
			WithCode(extension.CodeInvalidRequest)
	}

	result := &BulkResult{
		ExtensionID:   req.ExtensionID,
		TargetVersion: req.TargetVersion,
		StartedAt:     s.now(),
	}

	for _, siteID := range req.SiteIDs {
		outcome := SiteOutcome{SiteID: siteID}
		record, err := s.DeployExtensionToSite(ctx, &Request{
			SiteID:               siteID,
			ExtensionID:          req.ExtensionID,
			TargetVersion:        req.TargetVersion,
			DeploymentType:       req.DeploymentType,
			RolloutStrategy:      req.RolloutStrategy,
			PreDeploymentChecks:  req.PreDeploymentChecks,
			PostDeploymentChecks: req.PostDeploymentChecks,
			EnableAutoRollback:   req.EnableAutoRollback,
			InitiatedBy:          req.InitiatedBy,
		}, tenant)
		if record != nil {
			outcome.DeploymentID = record.ID
			outcome.Record = record
		}
		if err != nil {
			outcome.Error = err.Error()
			result.Failed++
		} else {
			outcome.Succeeded = true
			result.Succeeded++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	result.CompletedAt = s.now()
	s.log.WithExtensionID(req.ExtensionID).
		Infof("bulk deployment finished: %d succeeded, %d failed", result.Succeeded, result.Failed)
	return result, nil
}

// EnableExtensionForSite marks a deployed extension active.
func (s *Service) EnableExtensionForSite(ctx context.Context, siteID, extensionID string, tenant *extension.MultiTenancyContext) error {
	return s.setEnabled(ctx, siteID, extensionID, tenant, EnabledStatusEnabled)
}

// DisableExtensionForSite marks a deployed extension inactive without
// removing it from the site.
func (s *Service) DisableExtensionForSite(ctx context.Context, siteID, extensionID string, tenant *extension.MultiTenancyContext) error {
	return s.setEnabled(ctx, siteID, extensionID, tenant, EnabledStatusDisabled)
}

func (s *Service) setEnabled(ctx context.Context, siteID, extensionID string, tenant *extension.MultiTenancyContext, enabled EnabledStatus) error {
	if err := s.guardSite(siteID, tenant); err != nil {
		return err
	}

	status, err := s.store.GetSiteExtension(ctx, siteID, extensionID)
	if err != nil {
		return extension.NewInternalError("site extension lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID).WithExtension(extensionID)
	}
	if status == nil {
		return extension.NewNotFoundError(
			fmt.Sprintf("extension %s is not deployed to site %s", extensionID, siteID), nil).
			WithCode(extension.CodeSiteExtensionNotFound).WithSite(siteID).WithExtension(extensionID)
	}

	status.Enabled = enabled
	status.UpdatedAt = s.now()
	if err := s.store.UpsertSiteExtension(ctx, status); err != nil {
		return extension.NewInternalError("site extension update failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID).WithExtension(extensionID)
	}
	s.log.WithSiteID(siteID).WithExtensionID(extensionID).Infof("extension %s", enabled)
	return nil
}

// RollbackDeployment reverts a completed deployment to its source version
// via a new immediate deployment record. The original record is marked
// rolled_back; a deployment with no source version cannot be rolled back.
func (s *Service) RollbackDeployment(ctx context.Context, deploymentID string, tenant *extension.MultiTenancyContext) (*Record, error) {
	original, err := s.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, extension.NewInternalError("deployment lookup failed", err).
			WithCode(extension.CodeStoreFailure)
	}
	if original == nil {
		return nil, extension.NewNotFoundError(
			fmt.Sprintf("deployment %s not found", deploymentID), nil).
			WithCode(extension.CodeDeploymentNotFound)
	}
	if err := s.guardSite(original.SiteID, tenant); err != nil {
		return nil, err
	}
	if original.SourceVersion == "" {
		return nil, extension.NewDeploymentError(
			fmt.Sprintf("deployment %s has no source version to roll back to", deploymentID), nil).
			WithCode(extension.CodeRollbackSourceMissing).
			WithSite(original.SiteID).WithExtension(original.ExtensionID)
	}

	key := lockKey(original.SiteID, original.ExtensionID)
	if !s.locks.TryAcquire(key) {
		return nil, extension.NewDeploymentError(
			fmt.Sprintf("a deployment of %s to site %s is already in progress", original.ExtensionID, original.SiteID), nil).
			WithCode(extension.CodeDeploymentInProgress).
			WithSite(original.SiteID).WithExtension(original.ExtensionID)
	}
	defer s.locks.Release(key)

	rollback := &Record{
		ID:              uuid.New().String(),
		SiteID:          original.SiteID,
		ExtensionID:     original.ExtensionID,
		DeploymentType:  DeploymentTypeRollback,
		RolloutStrategy: RolloutImmediate,
		SourceVersion:   original.TargetVersion,
		TargetVersion:   original.SourceVersion,
		Status:          DeploymentStatusInProgress,
		RolledBackFrom:  original.ID,
		StartedAt:       s.now(),
	}
	if err := s.store.CreateDeployment(ctx, rollback); err != nil {
		return nil, extension.NewInternalError("rollback record creation failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(original.SiteID).WithExtension(original.ExtensionID)
	}
	s.metrics.RecordDeploymentStarted(string(RolloutImmediate), string(DeploymentTypeRollback))

	if err := s.executeRollout(ctx, rollback); err != nil {
		wrapped := extension.NewDeploymentError("rollback rollout aborted", err).
			WithSite(original.SiteID).WithExtension(original.ExtensionID)
		return s.failDeployment(ctx, rollback, wrapped)
	}

	status, err := s.store.GetSiteExtension(ctx, original.SiteID, original.ExtensionID)
	if err != nil {
		return s.failDeployment(ctx, rollback, extension.NewInternalError("site extension lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(original.SiteID).WithExtension(original.ExtensionID))
	}
	if status == nil {
		status = &SiteExtensionStatus{
			SiteID:      original.SiteID,
			ExtensionID: original.ExtensionID,
			Enabled:     EnabledStatusEnabled,
		}
	}
	if err := s.finalize(ctx, rollback, status); err != nil {
		return s.failDeployment(ctx, rollback, err)
	}

	completed := s.now()
	original.Status = DeploymentStatusRolledBack
	original.CompletedAt = &completed
	if err := s.store.UpdateDeployment(ctx, original); err != nil {
		s.log.WithDeploymentID(original.ID).WithError(err).
			Error("failed to mark original deployment rolled back")
	}

	s.metrics.RecordRollback("manual")
	s.log.WithSiteID(original.SiteID).WithExtensionID(original.ExtensionID).
		WithDeploymentID(rollback.ID).
		Infof("rolled back %s to %s", original.TargetVersion, original.SourceVersion)
	return rollback, nil
}

// ListSiteExtensions lists every extension deployed to a site.
func (s *Service) ListSiteExtensions(ctx context.Context, siteID string, tenant *extension.MultiTenancyContext) ([]*SiteExtensionStatus, error) {
	if err := s.guardSite(siteID, tenant); err != nil {
		return nil, err
	}
	statuses, err := s.store.ListSiteExtensions(ctx, siteID)
	if err != nil {
		return nil, extension.NewInternalError("site extension listing failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID)
	}
	return statuses, nil
}

// GetSiteExtension returns the installation row for one extension on one
// site, or a not found error.
func (s *Service) GetSiteExtension(ctx context.Context, siteID, extensionID string, tenant *extension.MultiTenancyContext) (*SiteExtensionStatus, error) {
	if err := s.guardSite(siteID, tenant); err != nil {
		return nil, err
	}
	status, err := s.store.GetSiteExtension(ctx, siteID, extensionID)
	if err != nil {
		return nil, extension.NewInternalError("site extension lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID).WithExtension(extensionID)
	}
	if status == nil {
		return nil, extension.NewNotFoundError(
			fmt.Sprintf("extension %s is not deployed to site %s", extensionID, siteID), nil).
			WithCode(extension.CodeSiteExtensionNotFound).WithSite(siteID).WithExtension(extensionID)
	}
	return status, nil
}

// GetDeploymentHistory lists deployment records, newest first. An empty
// extension ID covers every extension on the site.
func (s *Service) GetDeploymentHistory(ctx context.Context, siteID, extensionID string, limit, offset int, tenant *extension.MultiTenancyContext) ([]*Record, error) {
	if err := s.guardSite(siteID, tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := s.store.ListDeployments(ctx, siteID, extensionID, limit, offset)
	if err != nil {
		return nil, extension.NewInternalError("deployment history listing failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID)
	}
	return records, nil
}

func summarizeFindings(findings []compat.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	out := findings[0].Code
	for _, f := range findings[1:] {
		out += ", " + f.Code
	}
	return out
}

func orNone(version string) string {
	if version == "" {
		return "(none)"
	}
	return version
}
