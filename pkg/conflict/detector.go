package conflict

import (
	"context"
	"time"

	"github.com/machshop/extension-orchestrator/pkg/cache"
	"github.com/machshop/extension-orchestrator/pkg/extension"
	"github.com/machshop/extension-orchestrator/pkg/telemetry"
)

const (
	// DefaultMemoryBudgetMB is the platform-wide declared-memory budget.
	DefaultMemoryBudgetMB = 4096

	// DefaultCacheTTL is how long detection results are memoized.
	DefaultCacheTTL = 10 * time.Minute
)

// Options configures an Engine.
type Options struct {
	// MemoryBudgetMB overrides the platform memory budget. Zero means
	// DefaultMemoryBudgetMB.
	MemoryBudgetMB int

	// CacheTTL overrides the result memoization TTL. Zero means
	// DefaultCacheTTL.
	CacheTTL time.Duration

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Engine performs structural conflict analysis of a candidate manifest
// against an installation context. It is independent of the compatibility
// matrix service; callers may compose the two as deployment gates.
type Engine struct {
	memoryBudgetMB int
	results        *cache.Cache
	log            *telemetry.Logger
	metrics        *telemetry.Metrics
	now            func() time.Time
}

// NewEngine creates a conflict detection engine.
func NewEngine(opts Options) *Engine {
	budget := opts.MemoryBudgetMB
	if budget <= 0 {
		budget = DefaultMemoryBudgetMB
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.Nop()
	}
	return &Engine{
		memoryBudgetMB: budget,
		results:        cache.New(ttl),
		log:            log.NewComponentLogger("conflict-engine"),
		metrics:        opts.Metrics,
		now:            time.Now,
	}
}

// DetectConflicts analyzes the candidate manifest against the live
// installation context and returns the combined verdict. Results are
// memoized by (manifest id, manifest version, context fingerprint).
func (e *Engine) DetectConflicts(ctx context.Context, manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) (*Result, error) {
	if manifest == nil {
		return nil, extension.NewValidationError("manifest is required", nil).WithCode(extension.CodeInvalidRequest)
	}
	if manifest.ID == "" {
		return nil, extension.NewValidationError("manifest id is required", nil).WithCode(extension.CodeInvalidRequest)
	}
	if compatCtx == nil {
		return nil, extension.NewValidationError("compatibility context is required", nil).WithCode(extension.CodeInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := manifest.ID + "@" + manifest.Version + ":" + compatCtx.Fingerprint()
	if hit, ok := e.results.Get(key); ok {
		cached := hit.(Result)
		cached.Cached = true
		return &cached, nil
	}

	started := e.now()
	found := e.analyze(manifest, compatCtx)

	result := &Result{
		SummaryByType:   make(map[Type]int),
		DependencyGraph: buildDependencyGraph(manifest, compatCtx),
		Timestamp:       started,
	}
	for _, c := range found {
		d := c.detail()
		result.SummaryByType[c.Kind()]++
		if d.Severity == SeverityError {
			result.Conflicts = append(result.Conflicts, d)
		} else {
			result.Warnings = append(result.Warnings, d)
		}
		e.metrics.RecordConflict(string(d.Type), string(d.Severity))
	}
	result.CanInstall = len(result.Conflicts) == 0
	elapsed := e.now().Sub(started)
	result.AnalysisTimeMS = elapsed.Milliseconds()

	e.results.Set(key, *result)
	e.metrics.RecordConflictAnalysis(result.CanInstall, elapsed)
	e.log.WithExtensionID(manifest.ID).WithVersion(manifest.Version).
		Debugf("conflict analysis: %d errors, %d warnings", len(result.Conflicts), len(result.Warnings))

	return result, nil
}

// ClearCache empties the result cache unconditionally.
func (e *Engine) ClearCache() {
	e.results.Clear()
}

// CacheLen reports the number of memoized results currently held.
func (e *Engine) CacheLen() int {
	return e.results.Len()
}

// analyze runs every structural check and accumulates findings.
func (e *Engine) analyze(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	var found []Conflict
	found = append(found, e.checkRoutes(manifest, compatCtx)...)
	found = append(found, e.checkHooks(manifest, compatCtx)...)
	found = append(found, e.checkEntities(manifest, compatCtx)...)
	found = append(found, e.checkResources(manifest, compatCtx)...)
	found = append(found, e.checkPermissions(manifest, compatCtx)...)
	found = append(found, e.checkDeclared(manifest, compatCtx)...)
	found = append(found, e.checkDependencies(manifest, compatCtx)...)
	return found
}

func (e *Engine) checkRoutes(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	var found []Conflict
	for _, route := range manifest.Routes {
		candidate, ok := parseRouteKey(route.Key())
		if !ok {
			continue
		}
		for _, info := range compatCtx.InstalledExtensions {
			for _, registered := range info.RegisteredRoutes {
				installed, ok := parseRouteKey(registered)
				if !ok {
					continue
				}
				switch {
				case sameTemplate(candidate, installed):
					found = append(found, RouteCollision{
						RouteKey:    route.Key(),
						InstalledID: info.ExtensionID,
						Exact:       true,
					})
				case templatesOverlap(candidate, installed):
					found = append(found, RouteCollision{
						RouteKey:    route.Key(),
						InstalledID: info.ExtensionID,
					})
				}
			}
		}
	}
	return found
}

func (e *Engine) checkHooks(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	var found []Conflict
	for _, hook := range manifest.Hooks {
		for _, info := range compatCtx.InstalledExtensions {
			for _, claimed := range info.Hooked {
				if claimed == hook.Name {
					found = append(found, HookConflict{
						HookName:    hook.Name,
						InstalledID: info.ExtensionID,
					})
				}
			}
		}
	}
	return found
}

func (e *Engine) checkEntities(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	var found []Conflict
	for _, entity := range manifest.DataSchema.CustomEntities {
		for _, info := range compatCtx.InstalledExtensions {
			for _, owned := range info.CustomEntities {
				if owned == entity.Name {
					found = append(found, EntityCollision{
						EntityName:  entity.Name,
						InstalledID: info.ExtensionID,
					})
				}
			}
		}
	}
	return found
}

func (e *Engine) checkResources(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	requested := manifest.Resources.MemoryMB
	if requested <= 0 {
		return nil
	}
	total := requested
	for _, info := range compatCtx.InstalledExtensions {
		total += info.DeclaredMemoryMB
	}
	if total <= e.memoryBudgetMB {
		return nil
	}
	return []Conflict{ResourceConflict{
		RequestedMB: requested,
		TotalMB:     total,
		BudgetMB:    e.memoryBudgetMB,
	}}
}

func (e *Engine) checkPermissions(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	var found []Conflict
	for _, perm := range manifest.Permissions {
		for _, info := range compatCtx.InstalledExtensions {
			for _, granted := range info.Permissions {
				if granted.Resource == perm.Resource && granted.Action == perm.Action {
					found = append(found, PermissionConflict{
						Resource:    perm.Resource,
						Action:      perm.Action,
						InstalledID: info.ExtensionID,
					})
				}
			}
		}
	}
	return found
}

// checkDeclared covers manifest-declared incompatibility in both
// directions: candidate naming installed, and installed naming candidate.
func (e *Engine) checkDeclared(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	installed := make(map[string]bool, len(compatCtx.InstalledExtensions))
	for _, info := range compatCtx.InstalledExtensions {
		installed[info.ExtensionID] = true
	}

	var found []Conflict
	for _, declared := range manifest.Conflicts {
		if installed[declared.ExtensionID] {
			found = append(found, ManifestDeclared{
				DeclaredBy: manifest.ID,
				Against:    declared.ExtensionID,
				Reason:     declared.Reason,
			})
		}
	}
	for _, info := range compatCtx.InstalledExtensions {
		for _, declared := range info.Conflicts {
			if declared.ExtensionID == manifest.ID {
				found = append(found, ManifestDeclared{
					DeclaredBy: info.ExtensionID,
					Against:    manifest.ID,
					Reason:     declared.Reason,
				})
			}
		}
	}
	return found
}

func (e *Engine) checkDependencies(manifest *extension.Manifest, compatCtx *extension.CompatibilityContext) []Conflict {
	installed := make(map[string]extension.InstalledInfo, len(compatCtx.InstalledExtensions))
	for _, info := range compatCtx.InstalledExtensions {
		installed[info.ExtensionID] = info
	}

	var found []Conflict
	for _, dep := range manifest.Dependencies {
		if dep.Optional {
			continue
		}
		info, present := installed[dep.ExtensionID]
		if !present {
			found = append(found, TransitiveDependency{
				DependencyID: dep.ExtensionID,
				VersionRange: dep.VersionRange,
				Missing:      true,
			})
			continue
		}
		ok, err := extension.VersionSatisfies(info.Version, dep.VersionRange)
		if err != nil || !ok {
			found = append(found, TransitiveDependency{
				DependencyID:     dep.ExtensionID,
				VersionRange:     dep.VersionRange,
				InstalledVersion: info.Version,
			})
		}
	}
	return found
}
