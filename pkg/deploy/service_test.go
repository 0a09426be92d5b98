package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/machshop/extension-orchestrator/pkg/compat"
	"github.com/machshop/extension-orchestrator/pkg/conflict"
	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// fakeStore is an in-memory Store. Values are copied on the way in and
// out so tests observe only what was actually persisted.
type fakeStore struct {
	mu          sync.Mutex
	deployments map[string]Record
	created     []string
	siteExt     map[string]SiteExtensionStatus
	configs     map[string]Configuration
	health      []HealthCheckResult

	// failCompletedUpserts makes UpsertSiteExtension fail that many times
	// for rows in completed state, to exercise finalization retries.
	failCompletedUpserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deployments: make(map[string]Record),
		siteExt:     make(map[string]SiteExtensionStatus),
		configs:     make(map[string]Configuration),
	}
}

func pairKey(siteID, extensionID string) string { return siteID + "/" + extensionID }

func (f *fakeStore) CreateDeployment(_ context.Context, record *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[record.ID] = *record
	f.created = append(f.created, record.ID)
	return nil
}

func (f *fakeStore) UpdateDeployment(_ context.Context, record *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deployments[record.ID]; !ok {
		return errors.New("deployment not found")
	}
	f.deployments[record.ID] = *record
	return nil
}

func (f *fakeStore) GetDeployment(_ context.Context, id string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.deployments[id]
	if !ok {
		return nil, nil
	}
	out := record
	return &out, nil
}

func (f *fakeStore) ListDeployments(_ context.Context, siteID, extensionID string, limit, offset int) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Record
	for i := len(f.created) - 1; i >= 0; i-- {
		record := f.deployments[f.created[i]]
		if record.SiteID != siteID {
			continue
		}
		if extensionID != "" && record.ExtensionID != extensionID {
			continue
		}
		copied := record
		out = append(out, &copied)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpsertSiteExtension(_ context.Context, status *SiteExtensionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status.Deployment == DeploymentStatusCompleted && f.failCompletedUpserts > 0 {
		f.failCompletedUpserts--
		return errors.New("transient store failure")
	}
	f.siteExt[pairKey(status.SiteID, status.ExtensionID)] = *status
	return nil
}

func (f *fakeStore) GetSiteExtension(_ context.Context, siteID, extensionID string) (*SiteExtensionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.siteExt[pairKey(siteID, extensionID)]
	if !ok {
		return nil, nil
	}
	out := status
	return &out, nil
}

func (f *fakeStore) ListSiteExtensions(_ context.Context, siteID string) ([]*SiteExtensionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SiteExtensionStatus
	for _, status := range f.siteExt {
		if status.SiteID == siteID {
			copied := status
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertConfiguration(_ context.Context, cfg *Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[pairKey(cfg.SiteID, cfg.ExtensionID)] = *cfg
	return nil
}

func (f *fakeStore) GetConfiguration(_ context.Context, siteID, extensionID string) (*Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[pairKey(siteID, extensionID)]
	if !ok {
		return nil, nil
	}
	out := cfg
	return &out, nil
}

func (f *fakeStore) InsertHealthCheck(_ context.Context, result *HealthCheckResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = append(f.health, *result)
	return nil
}

func (f *fakeStore) ListHealthChecks(_ context.Context, siteID, extensionID string, limit int) ([]*HealthCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*HealthCheckResult
	for i := len(f.health) - 1; i >= 0; i-- {
		if f.health[i].SiteID != siteID || f.health[i].ExtensionID != extensionID {
			continue
		}
		copied := f.health[i]
		out = append(out, &copied)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubChecker struct {
	compatible bool
}

func (c stubChecker) CheckCompatibility(_ context.Context, extensionID, version string, _ *extension.CompatibilityContext) (*compat.CheckResult, error) {
	result := &compat.CheckResult{
		ExtensionID:      extensionID,
		ExtensionVersion: version,
		Compatible:       c.compatible,
	}
	if !c.compatible {
		result.Findings = []compat.Finding{{
			Code:     extension.CodeNoCompatibilityRecord,
			Severity: "ERROR",
			Message:  "no compatibility record",
		}}
	}
	return result, nil
}

type stubDetector struct {
	canInstall bool
}

func (d stubDetector) DetectConflicts(_ context.Context, manifest *extension.Manifest, _ *extension.CompatibilityContext) (*conflict.Result, error) {
	result := &conflict.Result{CanInstall: d.canInstall}
	if !d.canInstall {
		result.Conflicts = []conflict.Detail{{
			Type:     conflict.TypeEntityCollision,
			Severity: conflict.SeverityError,
			Message:  "entity already owned",
		}}
	}
	return result, nil
}

type stubManifests struct{}

func (stubManifests) GetManifest(_ context.Context, extensionID, version string) (*extension.Manifest, error) {
	return &extension.Manifest{
		ID:      extensionID,
		Version: version,
		Type:    extension.TypeBusinessLogic,
	}, nil
}

type stubSites struct{}

func (stubSites) SiteContext(_ context.Context, siteID string) (*extension.CompatibilityContext, error) {
	return &extension.CompatibilityContext{MESVersion: "5.2.0", TargetSite: siteID}, nil
}

func healthyProber() Prober {
	return ProberFunc(func(context.Context, string, string, string) (HealthStatus, string, error) {
		return HealthStatusHealthy, "", nil
	})
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc, err := NewService(Options{
		Store:     store,
		Compat:    stubChecker{compatible: true},
		Conflicts: stubDetector{canInstall: true},
		Manifests: stubManifests{},
		Sites:     stubSites{},
		Prober:    healthyProber(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, store
}

func operator() *extension.MultiTenancyContext {
	return &extension.MultiTenancyContext{}
}

func deployRequest(siteID string) *Request {
	return &Request{
		SiteID:               siteID,
		ExtensionID:          "ext-quality",
		TargetVersion:        "2.0.0",
		DeploymentType:       DeploymentTypeInstall,
		RolloutStrategy:      RolloutImmediate,
		PreDeploymentChecks:  true,
		PostDeploymentChecks: true,
		EnableAutoRollback:   true,
		InitiatedBy:          "test-operator",
	}
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var platformErr *extension.Error
	if !errors.As(err, &platformErr) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if platformErr.Code != code {
		t.Errorf("error code = %s, want %s (err: %v)", platformErr.Code, code, err)
	}
}

func TestDeploySuccess(t *testing.T) {
	svc, store := newTestService(t)

	record, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != DeploymentStatusCompleted {
		t.Errorf("record status = %s, want %s", record.Status, DeploymentStatusCompleted)
	}
	if record.CompletedAt == nil {
		t.Error("completed record has no completion timestamp")
	}
	if record.SourceVersion != "" {
		t.Errorf("fresh install has source version %q", record.SourceVersion)
	}
	if len(record.PreChecks) != 2 {
		t.Fatalf("expected 2 pre checks, got %d", len(record.PreChecks))
	}
	for _, check := range record.PreChecks {
		if !check.Passed {
			t.Errorf("pre check %s did not pass", check.Name)
		}
	}
	if len(record.PostChecks) != 2 {
		t.Errorf("expected 2 post checks, got %d", len(record.PostChecks))
	}
	if len(record.Phases) != 1 || record.Phases[0].Name != "full" {
		t.Errorf("immediate rollout phases = %v", record.Phases)
	}

	stored, _ := store.GetDeployment(context.Background(), record.ID)
	if stored == nil || stored.Status != DeploymentStatusCompleted {
		t.Errorf("stored record = %+v, want completed", stored)
	}

	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status == nil {
		t.Fatal("site extension row missing after deployment")
	}
	if status.Version != "2.0.0" || status.Enabled != EnabledStatusEnabled ||
		status.Deployment != DeploymentStatusCompleted || status.Health != HealthStatusHealthy {
		t.Errorf("site row = %+v", status)
	}
	if status.DeployedAt == nil {
		t.Error("completed site row has no deployment timestamp")
	}
	if status.ErrorMessage != "" {
		t.Errorf("completed site row carries error message %q", status.ErrorMessage)
	}
}

func TestDeployUpgradeRecordsSourceVersion(t *testing.T) {
	svc, store := newTestService(t)
	store.siteExt[pairKey("site-dallas", "ext-quality")] = SiteExtensionStatus{
		SiteID:      "site-dallas",
		ExtensionID: "ext-quality",
		Version:     "1.0.0",
		Enabled:     EnabledStatusEnabled,
		Deployment:  DeploymentStatusCompleted,
		Health:      HealthStatusHealthy,
	}

	req := deployRequest("site-dallas")
	req.DeploymentType = DeploymentTypeUpgrade
	record, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.SourceVersion != "1.0.0" {
		t.Errorf("source version = %q, want 1.0.0", record.SourceVersion)
	}
}

func TestDeployStagedRunsAllPhases(t *testing.T) {
	svc, _ := newTestService(t)

	req := deployRequest("site-dallas")
	req.RolloutStrategy = RolloutStaged
	record, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.Phases) != 3 {
		t.Fatalf("staged rollout phases = %d, want 3", len(record.Phases))
	}
	wantNames := []string{"stage-1", "stage-2", "stage-3"}
	for i, phase := range record.Phases {
		if phase.Name != wantNames[i] {
			t.Errorf("phase %d = %s, want %s", i, phase.Name, wantNames[i])
		}
		if phase.Status != "completed" {
			t.Errorf("phase %s status = %s", phase.Name, phase.Status)
		}
	}
}

func TestDeployTenancyDeniedBeforeAnyMutation(t *testing.T) {
	svc, store := newTestService(t)
	tenant := &extension.MultiTenancyContext{SiteID: "site-austin"}

	_, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), tenant)
	if !extension.IsAccessDenied(err) {
		t.Fatalf("expected access denied, got %v", err)
	}
	assertErrorCode(t, err, extension.CodeSiteScopeViolation)

	if len(store.deployments) != 0 {
		t.Error("tenancy violation must not create deployment records")
	}
	if len(store.siteExt) != 0 {
		t.Error("tenancy violation must not touch site state")
	}
}

func TestDeployNilTenantDenied(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), nil)
	if !extension.IsAccessDenied(err) {
		t.Fatalf("expected access denied for nil tenant, got %v", err)
	}
}

func TestDeployValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.DeployExtensionToSite(context.Background(), nil, operator()); !extension.IsValidation(err) {
		t.Errorf("nil request: expected validation error, got %v", err)
	}

	req := deployRequest("site-dallas")
	req.TargetVersion = ""
	if _, err := svc.DeployExtensionToSite(context.Background(), req, operator()); !extension.IsValidation(err) {
		t.Errorf("missing target version: expected validation error, got %v", err)
	}

	req = deployRequest("site-dallas")
	req.RolloutStrategy = "yolo"
	if _, err := svc.DeployExtensionToSite(context.Background(), req, operator()); !extension.IsValidation(err) {
		t.Errorf("unknown strategy: expected validation error, got %v", err)
	}
}

func TestDeployRejectedWhileRowInProgress(t *testing.T) {
	svc, store := newTestService(t)
	store.siteExt[pairKey("site-dallas", "ext-quality")] = SiteExtensionStatus{
		SiteID:      "site-dallas",
		ExtensionID: "ext-quality",
		Version:     "1.0.0",
		Deployment:  DeploymentStatusInProgress,
	}

	_, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	assertErrorCode(t, err, extension.CodeDeploymentInProgress)
}

func TestDeployLockContention(t *testing.T) {
	svc, _ := newTestService(t)

	key := lockKey("site-dallas", "ext-quality")
	if !svc.locks.TryAcquire(key) {
		t.Fatal("failed to acquire lock for setup")
	}
	defer svc.locks.Release(key)

	_, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	assertErrorCode(t, err, extension.CodeDeploymentInProgress)

	// A different pair is unaffected.
	other := deployRequest("site-dallas")
	other.ExtensionID = "ext-other"
	if _, err := svc.DeployExtensionToSite(context.Background(), other, operator()); err != nil {
		t.Errorf("unrelated pair blocked: %v", err)
	}
}

func TestDeployCompatibilityGateFails(t *testing.T) {
	svc, store := newTestService(t)
	svc.compat = stubChecker{compatible: false}

	record, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	if !extension.IsCompatibility(err) {
		t.Fatalf("expected compatibility error, got %v", err)
	}
	assertErrorCode(t, err, extension.CodePreDeploymentCheckFailed)

	if record == nil || record.Status != DeploymentStatusFailed {
		t.Fatalf("record = %+v, want failed", record)
	}
	if len(record.PreChecks) != 1 || record.PreChecks[0].Passed {
		t.Errorf("pre checks = %v, want one failed compatibility check", record.PreChecks)
	}

	stored, _ := store.GetDeployment(context.Background(), record.ID)
	if stored == nil || stored.Status != DeploymentStatusFailed {
		t.Error("failed record was not persisted")
	}
	if stored.Error == "" {
		t.Error("failed record has no error message")
	}
	if stored.ErrorCode != extension.CodePreDeploymentCheckFailed {
		t.Errorf("stored error code = %q, want %s", stored.ErrorCode, extension.CodePreDeploymentCheckFailed)
	}

	// The failed attempt is visible on the site too.
	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status == nil {
		t.Fatal("expected a site row marking the failed install")
	}
	if status.Deployment != DeploymentStatusFailed || status.Enabled != EnabledStatusDisabled {
		t.Errorf("site row after failed pre checks = %+v", status)
	}
	if status.ErrorMessage == "" {
		t.Error("failed site row has no error message")
	}
}

func TestDeployPreCheckFailureKeepsExistingVersion(t *testing.T) {
	svc, store := newTestService(t)
	svc.compat = stubChecker{compatible: false}
	store.siteExt[pairKey("site-dallas", "ext-quality")] = SiteExtensionStatus{
		SiteID:      "site-dallas",
		ExtensionID: "ext-quality",
		Version:     "1.0.0",
		Enabled:     EnabledStatusEnabled,
		Deployment:  DeploymentStatusCompleted,
		Health:      HealthStatusHealthy,
	}

	req := deployRequest("site-dallas")
	req.DeploymentType = DeploymentTypeUpgrade
	_, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	assertErrorCode(t, err, extension.CodePreDeploymentCheckFailed)

	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Version != "1.0.0" {
		t.Errorf("site row version = %s, want unchanged 1.0.0", status.Version)
	}
	if status.Deployment != DeploymentStatusFailed {
		t.Errorf("site row deployment = %s, want failed", status.Deployment)
	}
	if status.ErrorMessage == "" {
		t.Error("failed site row has no error message")
	}
}

func TestDeploySkipsChecksWhenNotRequested(t *testing.T) {
	svc, store := newTestService(t)
	svc.compat = stubChecker{compatible: false}
	svc.prober = ProberFunc(func(context.Context, string, string, string) (HealthStatus, string, error) {
		return HealthStatusUnhealthy, "boot loop", nil
	})

	req := deployRequest("site-dallas")
	req.PreDeploymentChecks = false
	req.PostDeploymentChecks = false
	req.EnableAutoRollback = false
	record, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	if err != nil {
		t.Fatalf("deployment with checks disabled failed: %v", err)
	}
	if record.Status != DeploymentStatusCompleted {
		t.Errorf("record status = %s, want completed", record.Status)
	}
	if len(record.PreChecks) != 0 {
		t.Errorf("pre checks ran despite being disabled: %v", record.PreChecks)
	}
	if len(record.PostChecks) != 0 {
		t.Errorf("post checks ran despite being disabled: %v", record.PostChecks)
	}

	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Deployment != DeploymentStatusCompleted || status.Version != "2.0.0" {
		t.Errorf("site row = %+v, want completed 2.0.0", status)
	}
}

func TestDeployPostCheckFailureWithoutAutoRollback(t *testing.T) {
	svc, store := newTestService(t)
	store.siteExt[pairKey("site-dallas", "ext-quality")] = SiteExtensionStatus{
		SiteID:      "site-dallas",
		ExtensionID: "ext-quality",
		Version:     "1.0.0",
		Enabled:     EnabledStatusEnabled,
		Deployment:  DeploymentStatusCompleted,
		Health:      HealthStatusHealthy,
	}
	svc.prober = ProberFunc(func(_ context.Context, _, _, checkType string) (HealthStatus, string, error) {
		if checkType == CheckTypeReadiness {
			return HealthStatusUnhealthy, "connection refused", nil
		}
		return HealthStatusHealthy, "", nil
	})

	req := deployRequest("site-dallas")
	req.DeploymentType = DeploymentTypeUpgrade
	req.EnableAutoRollback = false
	_, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	assertErrorCode(t, err, extension.CodePostDeploymentCheckFailed)

	// Without auto rollback the failed target version stays on the row.
	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Version != "2.0.0" {
		t.Errorf("site row version = %s, want 2.0.0", status.Version)
	}
	if status.Deployment != DeploymentStatusFailed {
		t.Errorf("site row deployment = %s, want failed", status.Deployment)
	}
	if status.ErrorMessage == "" {
		t.Error("failed site row has no error message")
	}
}

func TestDeployHotfixType(t *testing.T) {
	svc, _ := newTestService(t)

	req := deployRequest("site-dallas")
	req.DeploymentType = DeploymentTypeHotfix
	record, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	if err != nil {
		t.Fatalf("hotfix deployment failed: %v", err)
	}
	if record.DeploymentType != DeploymentTypeHotfix {
		t.Errorf("deployment type = %s, want hotfix", record.DeploymentType)
	}
	if record.Status != DeploymentStatusCompleted {
		t.Errorf("record status = %s, want completed", record.Status)
	}
}

func TestDeployConflictGateFails(t *testing.T) {
	svc, _ := newTestService(t)
	svc.conflicts = stubDetector{canInstall: false}

	record, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	assertErrorCode(t, err, extension.CodePreDeploymentCheckFailed)

	if record.Status != DeploymentStatusFailed {
		t.Errorf("record status = %s, want failed", record.Status)
	}
	// The compatibility check ran and passed before the conflict gate.
	if len(record.PreChecks) != 2 || !record.PreChecks[0].Passed || record.PreChecks[1].Passed {
		t.Errorf("pre checks = %v", record.PreChecks)
	}
}

func TestDeployPostCheckFailureRestoresPreviousState(t *testing.T) {
	svc, store := newTestService(t)
	previous := SiteExtensionStatus{
		SiteID:      "site-dallas",
		ExtensionID: "ext-quality",
		Version:     "1.0.0",
		Enabled:     EnabledStatusEnabled,
		Deployment:  DeploymentStatusCompleted,
		Health:      HealthStatusHealthy,
		ConfigHash:  "abc123",
	}
	store.siteExt[pairKey("site-dallas", "ext-quality")] = previous

	svc.prober = ProberFunc(func(_ context.Context, _, _, checkType string) (HealthStatus, string, error) {
		if checkType == CheckTypeReadiness {
			return HealthStatusUnhealthy, "connection refused", nil
		}
		return HealthStatusHealthy, "", nil
	})

	req := deployRequest("site-dallas")
	req.DeploymentType = DeploymentTypeUpgrade
	record, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	assertErrorCode(t, err, extension.CodePostDeploymentCheckFailed)

	if record.Status != DeploymentStatusFailed {
		t.Errorf("record status = %s, want failed", record.Status)
	}
	if len(record.PostChecks) != 2 || record.PostChecks[0].Name != "health-liveness" || record.PostChecks[1].Passed {
		t.Errorf("post checks = %v", record.PostChecks)
	}

	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Version != "1.0.0" {
		t.Errorf("site row version = %s, want restored 1.0.0", status.Version)
	}
	if status.Deployment != DeploymentStatusCompleted || status.Enabled != EnabledStatusEnabled {
		t.Errorf("site row not restored: %+v", status)
	}
	if status.ConfigHash != "abc123" {
		t.Errorf("config hash = %q, want restored abc123", status.ConfigHash)
	}
	if status.ErrorMessage == "" {
		t.Error("restored row does not record the failure")
	}
}

func TestDeployPostCheckFailureOnFreshInstall(t *testing.T) {
	svc, store := newTestService(t)
	svc.prober = ProberFunc(func(context.Context, string, string, string) (HealthStatus, string, error) {
		return HealthStatusUnhealthy, "boot loop", nil
	})

	_, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	assertErrorCode(t, err, extension.CodePostDeploymentCheckFailed)

	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status == nil {
		t.Fatal("expected a site row marking the failed install")
	}
	if status.Deployment != DeploymentStatusFailed || status.Enabled != EnabledStatusDisabled {
		t.Errorf("fresh failed install row = %+v", status)
	}
}

func TestDeployFinalizationRetriesTransientFailure(t *testing.T) {
	svc, store := newTestService(t)
	store.failCompletedUpserts = finalizeAttempts - 1

	record, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	if err != nil {
		t.Fatalf("expected retries to absorb transient failures, got %v", err)
	}
	if record.Status != DeploymentStatusCompleted {
		t.Errorf("record status = %s, want completed", record.Status)
	}
}

func TestDeployFinalizationExhaustsRetries(t *testing.T) {
	svc, store := newTestService(t)
	store.failCompletedUpserts = finalizeAttempts

	record, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	assertErrorCode(t, err, extension.CodeStoreFailure)
	if record.Status != DeploymentStatusFailed {
		t.Errorf("record status = %s, want failed", record.Status)
	}
}

func TestDeployCancelledContextAbortsRollout(t *testing.T) {
	svc, store := newTestService(t)
	svc.phasePause = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var record *Record
	var deployErr error
	go func() {
		defer close(done)
		record, deployErr = svc.DeployExtensionToSite(ctx, deployRequest("site-dallas"), operator())
	}()

	cancel()
	<-done

	if !errors.Is(deployErr, context.Canceled) {
		t.Fatalf("expected context.Canceled in the cause chain, got %v", deployErr)
	}
	if record.Status != DeploymentStatusFailed {
		t.Errorf("record status = %s, want failed", record.Status)
	}

	// The failed record is persisted despite the cancelled context.
	stored, _ := store.GetDeployment(context.Background(), record.ID)
	if stored == nil || stored.Status != DeploymentStatusFailed {
		t.Error("failed record not persisted after cancellation")
	}
}

func TestBulkDeployContinuesOnFailure(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := &extension.MultiTenancyContext{SiteID: "site-dallas"}

	result, err := svc.BulkDeployExtensions(context.Background(), &BulkRequest{
		SiteIDs:              []string{"site-austin", "site-dallas"},
		ExtensionID:          "ext-quality",
		TargetVersion:        "2.0.0",
		DeploymentType:       DeploymentTypeInstall,
		RolloutStrategy:      RolloutImmediate,
		PreDeploymentChecks:  true,
		PostDeploymentChecks: true,
		EnableAutoRollback:   true,
	}, tenant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Succeeded != 1 || result.Failed != 1 {
		t.Errorf("counts = %d/%d, want 1 succeeded, 1 failed", result.Succeeded, result.Failed)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Outcomes))
	}

	austin := result.Outcomes[0]
	if austin.SiteID != "site-austin" || austin.Succeeded || austin.Error == "" {
		t.Errorf("out-of-scope site outcome = %+v", austin)
	}
	dallas := result.Outcomes[1]
	if !dallas.Succeeded || dallas.DeploymentID == "" {
		t.Errorf("in-scope site outcome = %+v", dallas)
	}
}

func TestBulkDeployValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.BulkDeployExtensions(context.Background(), &BulkRequest{
		ExtensionID:     "ext-quality",
		TargetVersion:   "2.0.0",
		DeploymentType:  DeploymentTypeInstall,
		RolloutStrategy: RolloutImmediate,
	}, operator())
	if !extension.IsValidation(err) {
		t.Errorf("empty site list: expected validation error, got %v", err)
	}
}

func TestEnableDisable(t *testing.T) {
	svc, store := newTestService(t)

	err := svc.DisableExtensionForSite(context.Background(), "site-dallas", "ext-quality", operator())
	assertErrorCode(t, err, extension.CodeSiteExtensionNotFound)

	if _, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if err := svc.DisableExtensionForSite(context.Background(), "site-dallas", "ext-quality", operator()); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Enabled != EnabledStatusDisabled {
		t.Errorf("enabled = %s, want disabled", status.Enabled)
	}

	if err := svc.EnableExtensionForSite(context.Background(), "site-dallas", "ext-quality", operator()); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	status, _ = store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Enabled != EnabledStatusEnabled {
		t.Errorf("enabled = %s, want enabled", status.Enabled)
	}
}

func TestRollbackDeployment(t *testing.T) {
	svc, store := newTestService(t)
	store.siteExt[pairKey("site-dallas", "ext-quality")] = SiteExtensionStatus{
		SiteID:      "site-dallas",
		ExtensionID: "ext-quality",
		Version:     "1.0.0",
		Enabled:     EnabledStatusEnabled,
		Deployment:  DeploymentStatusCompleted,
		Health:      HealthStatusHealthy,
	}

	req := deployRequest("site-dallas")
	req.DeploymentType = DeploymentTypeUpgrade
	upgraded, err := svc.DeployExtensionToSite(context.Background(), req, operator())
	if err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}

	rollback, err := svc.RollbackDeployment(context.Background(), upgraded.ID, operator())
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if rollback.DeploymentType != DeploymentTypeRollback {
		t.Errorf("rollback type = %s", rollback.DeploymentType)
	}
	if rollback.RolledBackFrom != upgraded.ID {
		t.Errorf("rolled back from = %q, want %s", rollback.RolledBackFrom, upgraded.ID)
	}
	if rollback.RolloutStrategy != RolloutImmediate {
		t.Errorf("rollback strategy = %s, want immediate", rollback.RolloutStrategy)
	}
	if rollback.SourceVersion != "2.0.0" || rollback.TargetVersion != "1.0.0" {
		t.Errorf("rollback versions = %s -> %s, want 2.0.0 -> 1.0.0",
			rollback.SourceVersion, rollback.TargetVersion)
	}
	if rollback.Status != DeploymentStatusCompleted {
		t.Errorf("rollback status = %s", rollback.Status)
	}

	stored, _ := store.GetDeployment(context.Background(), rollback.ID)
	if stored == nil || stored.RolledBackFrom != upgraded.ID {
		t.Errorf("stored rollback record = %+v, want link to %s", stored, upgraded.ID)
	}

	original, _ := store.GetDeployment(context.Background(), upgraded.ID)
	if original.Status != DeploymentStatusRolledBack {
		t.Errorf("original record status = %s, want rolled_back", original.Status)
	}
	if original.CompletedAt == nil {
		t.Error("original record has no completion timestamp after rollback")
	}

	status, _ := store.GetSiteExtension(context.Background(), "site-dallas", "ext-quality")
	if status.Version != "1.0.0" || status.Enabled != EnabledStatusEnabled {
		t.Errorf("site row after rollback = %+v", status)
	}
}

func TestRollbackNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RollbackDeployment(context.Background(), "no-such-id", operator())
	if !extension.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	assertErrorCode(t, err, extension.CodeDeploymentNotFound)
}

func TestRollbackWithoutSourceVersion(t *testing.T) {
	svc, store := newTestService(t)

	fresh, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if fresh.SourceVersion != "" {
		t.Fatalf("fresh install unexpectedly has a source version: %q", fresh.SourceVersion)
	}

	_, err = svc.RollbackDeployment(context.Background(), fresh.ID, operator())
	assertErrorCode(t, err, extension.CodeRollbackSourceMissing)

	// The original record stays untouched.
	stored, _ := store.GetDeployment(context.Background(), fresh.ID)
	if stored.Status != DeploymentStatusCompleted {
		t.Errorf("original record status = %s, want completed", stored.Status)
	}
}

func TestRollbackTenancyGuard(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator())
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	tenant := &extension.MultiTenancyContext{SiteID: "site-austin"}
	_, err = svc.RollbackDeployment(context.Background(), record.ID, tenant)
	if !extension.IsAccessDenied(err) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestGetSiteExtension(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetSiteExtension(context.Background(), "site-dallas", "ext-quality", operator())
	assertErrorCode(t, err, extension.CodeSiteExtensionNotFound)

	if _, err := svc.DeployExtensionToSite(context.Background(), deployRequest("site-dallas"), operator()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	status, err := svc.GetSiteExtension(context.Background(), "site-dallas", "ext-quality", operator())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Version != "2.0.0" {
		t.Errorf("version = %s", status.Version)
	}
}

func TestGetDeploymentHistory(t *testing.T) {
	svc, _ := newTestService(t)

	first := deployRequest("site-dallas")
	if _, err := svc.DeployExtensionToSite(context.Background(), first, operator()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	second := deployRequest("site-dallas")
	second.DeploymentType = DeploymentTypeUpgrade
	second.TargetVersion = "2.1.0"
	if _, err := svc.DeployExtensionToSite(context.Background(), second, operator()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	records, err := svc.GetDeploymentHistory(context.Background(), "site-dallas", "ext-quality", 0, 0, operator())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(records))
	}
	// Newest first.
	if records[0].TargetVersion != "2.1.0" || records[1].TargetVersion != "2.0.0" {
		t.Errorf("history order = %s, %s", records[0].TargetVersion, records[1].TargetVersion)
	}

	limited, err := svc.GetDeploymentHistory(context.Background(), "site-dallas", "", 1, 0, operator())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 record with limit 1, got %d", len(limited))
	}
}

func TestListSiteExtensionsTenancyGuard(t *testing.T) {
	svc, _ := newTestService(t)
	tenant := &extension.MultiTenancyContext{SiteID: "site-austin"}

	_, err := svc.ListSiteExtensions(context.Background(), "site-dallas", tenant)
	if !extension.IsAccessDenied(err) {
		t.Fatalf("expected access denied, got %v", err)
	}
}
