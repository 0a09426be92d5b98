package conflict

import (
	"sort"

	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// buildDependencyGraph produces the informational graph: one node for the
// candidate and one per extension reachable through its dependencies,
// tagged installed or missing. Produced even for conflict-free manifests.
func buildDependencyGraph(manifest *extension.Manifest, ctx *extension.CompatibilityContext) []GraphNode {
	installed := make(map[string]bool, len(ctx.InstalledExtensions))
	for _, info := range ctx.InstalledExtensions {
		installed[info.ExtensionID] = true
	}

	candidate := GraphNode{
		ExtensionID: manifest.ID,
		Status:      NodeStatusCandidate,
	}

	seen := map[string]bool{manifest.ID: true}
	var deps []GraphNode
	for _, dep := range manifest.Dependencies {
		candidate.DependsOn = append(candidate.DependsOn, dep.ExtensionID)
		if seen[dep.ExtensionID] {
			continue
		}
		seen[dep.ExtensionID] = true

		status := NodeStatusMissing
		if installed[dep.ExtensionID] {
			status = NodeStatusInstalled
		}
		deps = append(deps, GraphNode{ExtensionID: dep.ExtensionID, Status: status})
	}

	sort.Slice(deps, func(i, j int) bool {
		return deps[i].ExtensionID < deps[j].ExtensionID
	})

	return append([]GraphNode{candidate}, deps...)
}
