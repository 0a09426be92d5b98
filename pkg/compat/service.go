package compat

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/machshop/extension-orchestrator/pkg/cache"
	"github.com/machshop/extension-orchestrator/pkg/extension"
	"github.com/machshop/extension-orchestrator/pkg/telemetry"
)

// DefaultCacheTTL is how long compatibility verdicts are cached.
const DefaultCacheTTL = 5 * time.Minute

// Options configures a Service.
type Options struct {
	// CacheTTL overrides the result cache TTL. Zero means DefaultCacheTTL.
	CacheTTL time.Duration

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Service answers compatibility questions against the matrix store and
// caches verdicts. Safe for concurrent use; a stale cache hit within the
// TTL is an accepted tradeoff.
type Service struct {
	store   MatrixStore
	results *cache.Cache
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	now     func() time.Time
}

// NewService creates a compatibility matrix service backed by store.
func NewService(store MatrixStore, opts Options) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.Nop()
	}
	return &Service{
		store:   store,
		results: cache.New(ttl),
		log:     log.NewComponentLogger("compat-matrix"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		now:     time.Now,
	}
}

// CheckCompatibility answers whether the given extension version can run
// under the context's MES version, platform capabilities and installed
// extensions.
func (s *Service) CheckCompatibility(ctx context.Context, extensionID, version string, compatCtx *extension.CompatibilityContext) (*CheckResult, error) {
	if extensionID == "" || version == "" {
		return nil, extension.NewValidationError("extension id and version are required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	if compatCtx == nil {
		return nil, extension.NewValidationError("compatibility context is required", nil).
			WithCode(extension.CodeInvalidRequest)
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartCompatibilitySpan(ctx, extensionID, version)
		defer span.End()
	}

	key := extensionID + "@" + version + ":" + compatCtx.Fingerprint()
	if hit, ok := s.results.Get(key); ok {
		s.metrics.RecordCompatibilityCacheRequest(true)
		cached := *hit.(*CheckResult)
		cached.Cached = true
		return &cached, nil
	}
	s.metrics.RecordCompatibilityCacheRequest(false)

	started := s.now()
	result, err := s.evaluate(ctx, extensionID, version, compatCtx)
	if err != nil {
		return nil, err
	}
	result.CheckedAt = started

	s.results.Set(key, result)
	s.metrics.RecordCompatibilityCheck(result.Compatible, s.now().Sub(started))
	s.log.WithExtensionID(extensionID).WithVersion(version).
		Debugf("compatibility check: compatible=%t findings=%d", result.Compatible, len(result.Findings))

	out := *result
	return &out, nil
}

// evaluate runs the four compatibility steps without touching the cache.
func (s *Service) evaluate(ctx context.Context, extensionID, version string, compatCtx *extension.CompatibilityContext) (*CheckResult, error) {
	result := &CheckResult{
		ExtensionID:      extensionID,
		ExtensionVersion: version,
	}

	record, err := s.store.GetCompatibilityRecord(ctx, extensionID, version)
	if err != nil {
		return nil, extension.NewInternalError("compatibility record lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithExtension(extensionID)
	}
	if record == nil {
		// No row is authoritative "unknown", which blocks install.
		result.Findings = append(result.Findings, Finding{
			Code:     extension.CodeNoCompatibilityRecord,
			Severity: severityError,
			Message:  fmt.Sprintf("no compatibility record for %s@%s", extensionID, version),
		})
		result.Compatible = false
		return result, nil
	}

	inWindow, err := extension.VersionInWindow(compatCtx.MESVersion, record.MESVersionMin, record.MESVersionMax)
	if err != nil {
		return nil, extension.NewValidationError("invalid MES version", err).
			WithCode(extension.CodeInvalidRequest)
	}
	if !inWindow {
		finding := Finding{
			Code:     extension.CodeMESVersionIncompatible,
			Severity: severityError,
			Message: fmt.Sprintf("MES version %s is outside the supported window [%s, %s]",
				compatCtx.MESVersion, record.MESVersionMin, maxOrOpen(record.MESVersionMax)),
		}
		result.Findings = append(result.Findings, finding)
		if suggestion := s.nearestCompatibleVersion(ctx, extensionID, version, compatCtx.MESVersion); suggestion != "" {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("version %s of %s supports MES %s", suggestion, extensionID, compatCtx.MESVersion))
		}
	}

	available := make(map[string]bool, len(compatCtx.PlatformCapabilities))
	for _, capability := range compatCtx.PlatformCapabilities {
		available[capability] = true
	}
	for _, required := range record.PlatformCapabilities {
		if !available[required] {
			result.Findings = append(result.Findings, Finding{
				Code:       extension.CodeMissingPlatformCapability,
				Severity:   severityError,
				Message:    fmt.Sprintf("platform capability %q is required but not available", required),
				Capability: required,
			})
		}
	}

	for _, installed := range compatCtx.InstalledExtensions {
		finding, err := s.pairwiseFinding(ctx, extensionID, version, installed.ExtensionID, installed.Version)
		if err != nil {
			return nil, err
		}
		if finding != nil {
			result.Findings = append(result.Findings, *finding)
		}
	}

	result.Compatible = !hasError(result.Findings)
	return result, nil
}

// pairwiseFinding checks the declared relation candidate -> installed.
// Unknown pairs are neutral; only an applicable incompatible declaration
// produces a finding.
func (s *Service) pairwiseFinding(ctx context.Context, sourceID, sourceVersion, targetID, targetVersion string) (*Finding, error) {
	rel, err := s.store.GetDependencyCompatibility(ctx, sourceID, sourceVersion, targetID)
	if err != nil {
		return nil, extension.NewInternalError("dependency compatibility lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithExtension(sourceID)
	}
	if rel == nil || rel.Compatibility != RelationIncompatible {
		return nil, nil
	}
	if rel.TargetVersionMin != "" || rel.TargetVersionMax != "" {
		inWindow, err := extension.VersionInWindow(targetVersion, rel.TargetVersionMin, rel.TargetVersionMax)
		if err != nil || !inWindow {
			// Declared incompatibility scoped to a window the installed
			// version is not in (or an unparseable version): neutral.
			return nil, nil
		}
	}
	return &Finding{
		Code:                   extension.CodeExtensionIncompatible,
		Severity:               severityError,
		Message:                fmt.Sprintf("%s@%s is declared incompatible with %s@%s", sourceID, sourceVersion, targetID, targetVersion),
		ConflictingExtensionID: targetID,
	}, nil
}

// nearestCompatibleVersion finds the extension version closest to the
// requested one whose record covers the given MES version.
func (s *Service) nearestCompatibleVersion(ctx context.Context, extensionID, requestedVersion, mesVersion string) string {
	records, err := s.store.ListCompatibilityRecords(ctx, extensionID)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, r := range records {
		if r.ExtensionVersion == requestedVersion {
			continue
		}
		ok, err := extension.VersionInWindow(mesVersion, r.MESVersionMin, r.MESVersionMax)
		if err == nil && ok {
			candidates = append(candidates, r.ExtensionVersion)
		}
	}
	nearest, found := extension.NearestVersion(requestedVersion, candidates)
	if !found {
		return ""
	}
	return nearest
}

// UpdateCompatibilityRecord upserts a record and invalidates every cache
// entry. Invalidation is unconditional, not scoped to the extension.
func (s *Service) UpdateCompatibilityRecord(ctx context.Context, record *Record) error {
	if record == nil || record.ExtensionID == "" || record.ExtensionVersion == "" {
		return extension.NewValidationError("record extension id and version are required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	record.UpdatedAt = s.now()
	if err := s.store.UpsertCompatibilityRecord(ctx, record); err != nil {
		return extension.NewInternalError("compatibility record upsert failed", err).
			WithCode(extension.CodeStoreFailure).WithExtension(record.ExtensionID)
	}
	s.results.Clear()
	return nil
}

// UpsertDependencyCompatibility upserts a pairwise declaration and
// invalidates the cache.
func (s *Service) UpsertDependencyCompatibility(ctx context.Context, record *DependencyRecord) error {
	if record == nil || record.SourceExtensionID == "" || record.TargetExtensionID == "" {
		return extension.NewValidationError("source and target extension ids are required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	if err := s.store.UpsertDependencyCompatibility(ctx, record); err != nil {
		return extension.NewInternalError("dependency compatibility upsert failed", err).
			WithCode(extension.CodeStoreFailure).WithExtension(record.SourceExtensionID)
	}
	s.results.Clear()
	return nil
}

// ClearCache empties the verdict cache immediately.
func (s *Service) ClearCache() {
	s.results.Clear()
}

// CacheLen reports the number of cached verdicts.
func (s *Service) CacheLen() int {
	return s.results.Len()
}

func hasError(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == severityError {
			return true
		}
	}
	return false
}

func maxOrOpen(max string) string {
	if max == "" {
		return "open"
	}
	return max
}
