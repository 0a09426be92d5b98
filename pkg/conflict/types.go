// Package conflict implements the structural conflict detection engine:
// it analyzes a candidate manifest against the live installation context
// and enumerates every way the candidate could collide with what is
// already installed.
package conflict

import (
	"fmt"
	"time"
)

// Type identifies the kind of conflict. The set is closed: every variant
// of the Conflict union maps to exactly one Type.
type Type string

const (
	TypeRouteCollision       Type = "ROUTE_COLLISION"
	TypeHookConflict         Type = "HOOK_CONFLICT"
	TypeEntityCollision      Type = "ENTITY_COLLISION"
	TypeResourceConflict     Type = "RESOURCE_CONFLICT"
	TypePermissionConflict   Type = "PERMISSION_CONFLICT"
	TypeManifestDeclared     Type = "MANIFEST_DECLARED"
	TypeTransitiveDependency Type = "TRANSITIVE_DEPENDENCY"
)

// Types lists all conflict types, in summary order.
var Types = []Type{
	TypeRouteCollision,
	TypeHookConflict,
	TypeEntityCollision,
	TypeResourceConflict,
	TypePermissionConflict,
	TypeManifestDeclared,
	TypeTransitiveDependency,
}

// Severity is the blocking level of a conflict. Only ERROR blocks install.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// ResolutionStrategy is advisory metadata attached to a conflict. The
// engine never applies a resolution itself.
type ResolutionStrategy struct {
	Name           string `json:"name"`
	Implementation string `json:"implementation"` // automatic | manual
	Description    string `json:"description"`
}

// Detail is the serialized form of a conflict, common across all variants.
type Detail struct {
	Type                   Type                 `json:"type"`
	Severity               Severity             `json:"severity"`
	ConflictItem           string               `json:"conflict_item"`
	ConflictingExtensionID string               `json:"conflicting_extension_id,omitempty"`
	Message                string               `json:"message"`
	Resolutions            []ResolutionStrategy `json:"resolutions,omitempty"`
}

// Conflict is the closed union of conflict variants. Each variant carries
// only the fields relevant to its kind; call sites that need to handle
// every kind switch over the concrete types, and the compiler-checked
// detail() dispatch below keeps the set in sync.
type Conflict interface {
	// Kind returns the conflict type tag.
	Kind() Type

	// detail renders the variant into the common serialized form.
	detail() Detail

	sealed()
}

// RouteCollision reports a candidate route colliding with an installed one.
type RouteCollision struct {
	RouteKey    string // "METHOD:path"
	InstalledID string
	Exact       bool // exact key match vs. pattern overlap
}

// HookConflict reports a hook name already claimed by an installed extension.
type HookConflict struct {
	HookName    string
	InstalledID string
}

// EntityCollision reports a custom entity name already owned elsewhere.
type EntityCollision struct {
	EntityName  string
	InstalledID string
}

// ResourceConflict reports the declared memory total exceeding the budget.
type ResourceConflict struct {
	RequestedMB int
	TotalMB     int
	BudgetMB    int
}

// PermissionConflict reports a (resource, action) grant already held.
type PermissionConflict struct {
	Resource    string
	Action      string
	InstalledID string
}

// ManifestDeclared reports a self-declared incompatibility, in either
// direction (candidate names installed, or installed names candidate).
type ManifestDeclared struct {
	DeclaredBy string // extension that declared the conflict
	Against    string // extension the declaration targets
	Reason     string
}

// TransitiveDependency reports a required dependency that is missing,
// version-mismatched, or part of a cycle.
type TransitiveDependency struct {
	DependencyID     string
	VersionRange     string
	InstalledVersion string // empty when the dependency is missing
	Missing          bool
	Cycle            []string // populated for cycles in batch ordering
}

func (RouteCollision) sealed()       {}
func (HookConflict) sealed()         {}
func (EntityCollision) sealed()      {}
func (ResourceConflict) sealed()     {}
func (PermissionConflict) sealed()   {}
func (ManifestDeclared) sealed()     {}
func (TransitiveDependency) sealed() {}

func (RouteCollision) Kind() Type       { return TypeRouteCollision }
func (HookConflict) Kind() Type         { return TypeHookConflict }
func (EntityCollision) Kind() Type      { return TypeEntityCollision }
func (ResourceConflict) Kind() Type     { return TypeResourceConflict }
func (PermissionConflict) Kind() Type   { return TypePermissionConflict }
func (ManifestDeclared) Kind() Type     { return TypeManifestDeclared }
func (TransitiveDependency) Kind() Type { return TypeTransitiveDependency }

func (c RouteCollision) detail() Detail {
	severity := SeverityWarning
	msg := fmt.Sprintf("route %s overlaps a route registered by %s", c.RouteKey, c.InstalledID)
	if c.Exact {
		severity = SeverityError
		msg = fmt.Sprintf("route %s is already registered by %s", c.RouteKey, c.InstalledID)
	}
	return Detail{
		Type:                   TypeRouteCollision,
		Severity:               severity,
		ConflictItem:           c.RouteKey,
		ConflictingExtensionID: c.InstalledID,
		Message:                msg,
		Resolutions: []ResolutionStrategy{{
			Name:           "Use Namespace Prefix",
			Implementation: "automatic",
			Description:    "Prefix the extension's routes with its extension ID to avoid the shared path",
		}},
	}
}

func (c HookConflict) detail() Detail {
	return Detail{
		Type:                   TypeHookConflict,
		Severity:               SeverityWarning,
		ConflictItem:           c.HookName,
		ConflictingExtensionID: c.InstalledID,
		Message:                fmt.Sprintf("hook %q is already claimed by %s", c.HookName, c.InstalledID),
		Resolutions: []ResolutionStrategy{{
			Name:           "Hook Priority Adjustment",
			Implementation: "automatic",
			Description:    "Run both handlers on the hook with an explicit priority ordering",
		}},
	}
}

func (c EntityCollision) detail() Detail {
	return Detail{
		Type:                   TypeEntityCollision,
		Severity:               SeverityError,
		ConflictItem:           c.EntityName,
		ConflictingExtensionID: c.InstalledID,
		Message:                fmt.Sprintf("custom entity %q is already owned by %s", c.EntityName, c.InstalledID),
		Resolutions: []ResolutionStrategy{{
			Name:           "Rename Entity with Prefix",
			Implementation: "automatic",
			Description:    "Prefix the entity name with the extension ID to make it unique",
		}},
	}
}

func (c ResourceConflict) detail() Detail {
	return Detail{
		Type:         TypeResourceConflict,
		Severity:     SeverityWarning,
		ConflictItem: fmt.Sprintf("memory:%dMB", c.TotalMB),
		Message: fmt.Sprintf("declared memory total %d MB (candidate %d MB) exceeds the platform budget of %d MB",
			c.TotalMB, c.RequestedMB, c.BudgetMB),
		Resolutions: []ResolutionStrategy{{
			Name:           "Reduce Memory Usage",
			Implementation: "manual",
			Description:    "Lower the extension's declared memory requirement or raise the platform budget",
		}},
	}
}

func (c PermissionConflict) detail() Detail {
	item := c.Resource + ":" + c.Action
	return Detail{
		Type:                   TypePermissionConflict,
		Severity:               SeverityWarning,
		ConflictItem:           item,
		ConflictingExtensionID: c.InstalledID,
		Message:                fmt.Sprintf("permission %s is already granted to %s on the same resource", item, c.InstalledID),
		Resolutions: []ResolutionStrategy{{
			Name:           "Scoped Permission Review",
			Implementation: "manual",
			Description:    "Review whether both extensions should hold this grant, or narrow one to a sub-resource",
		}},
	}
}

func (c ManifestDeclared) detail() Detail {
	msg := fmt.Sprintf("%s declares itself incompatible with %s", c.DeclaredBy, c.Against)
	if c.Reason != "" {
		msg += ": " + c.Reason
	}
	return Detail{
		Type:                   TypeManifestDeclared,
		Severity:               SeverityError,
		ConflictItem:           c.Against,
		ConflictingExtensionID: c.Against,
		Message:                msg,
		Resolutions: []ResolutionStrategy{{
			Name:           "Remove Conflicting Extension",
			Implementation: "manual",
			Description:    "Uninstall one of the two extensions; the incompatibility is declared by the authors",
		}},
	}
}

func (c TransitiveDependency) detail() Detail {
	d := Detail{
		Type:                   TypeTransitiveDependency,
		Severity:               SeverityError,
		ConflictItem:           c.DependencyID,
		ConflictingExtensionID: c.DependencyID,
	}
	switch {
	case len(c.Cycle) > 0:
		d.Message = fmt.Sprintf("dependency cycle: %s", formatCycle(c.Cycle))
		d.Resolutions = []ResolutionStrategy{{
			Name:           "Break Dependency Cycle",
			Implementation: "manual",
			Description:    "Remove or invert one of the requires relationships in the cycle",
		}}
	case c.Missing:
		d.Message = fmt.Sprintf("required dependency %s is not installed", c.DependencyID)
		d.Resolutions = []ResolutionStrategy{{
			Name:           "Install Missing Dependency",
			Implementation: "automatic",
			Description:    fmt.Sprintf("Install %s (%s) before this extension", c.DependencyID, rangeOrAny(c.VersionRange)),
		}}
	default:
		d.Message = fmt.Sprintf("dependency %s is installed at %s, which does not satisfy %s",
			c.DependencyID, c.InstalledVersion, rangeOrAny(c.VersionRange))
		d.Resolutions = []ResolutionStrategy{{
			Name:           "Upgrade Dependency",
			Implementation: "manual",
			Description:    fmt.Sprintf("Move %s to a version satisfying %s", c.DependencyID, rangeOrAny(c.VersionRange)),
		}}
	}
	return d
}

func rangeOrAny(r string) string {
	if r == "" {
		return "any version"
	}
	return r
}

func formatCycle(cycle []string) string {
	out := ""
	for i, id := range cycle {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

// NodeStatus tags a dependency graph node.
type NodeStatus string

const (
	NodeStatusCandidate NodeStatus = "candidate"
	NodeStatusInstalled NodeStatus = "installed"
	NodeStatusMissing   NodeStatus = "missing"
)

// GraphNode is one node of the informational dependency graph.
type GraphNode struct {
	ExtensionID string     `json:"extension_id"`
	Status      NodeStatus `json:"status"`
	DependsOn   []string   `json:"depends_on,omitempty"`
}

// Result is the combined verdict of a detection run.
type Result struct {
	// CanInstall is false iff any ERROR-severity conflict exists.
	CanInstall bool `json:"can_install"`

	// Conflicts holds ERROR-severity findings; Warnings the rest.
	Conflicts []Detail `json:"conflicts"`
	Warnings  []Detail `json:"warnings"`

	// SummaryByType counts findings per type across both lists.
	SummaryByType map[Type]int `json:"summary_by_type"`

	// DependencyGraph is produced even when there are zero conflicts.
	DependencyGraph []GraphNode `json:"dependency_graph"`

	// AnalysisTimeMS is how long the analysis took, in milliseconds.
	AnalysisTimeMS int64 `json:"analysis_time_ms"`

	Timestamp time.Time `json:"timestamp"`

	// Cached is true when the result was served from the memo cache.
	Cached bool `json:"cached"`
}
