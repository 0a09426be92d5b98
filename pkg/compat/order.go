package compat

import (
	"context"
	"fmt"
	"sort"

	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// CheckInstallationCompatibility validates a batch of extensions: each one
// independently against the current installed set, then pairwise between
// batch members (treating the other member as though already installed),
// and computes an installation order where requires relationships precede
// their dependents.
func (s *Service) CheckInstallationCompatibility(ctx context.Context, requests []InstallRequest, compatCtx *extension.CompatibilityContext) (*InstallationResult, error) {
	if len(requests) == 0 {
		return nil, extension.NewValidationError("at least one install request is required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	if compatCtx == nil {
		return nil, extension.NewValidationError("compatibility context is required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		if req.ExtensionID == "" || req.Version == "" {
			return nil, extension.NewValidationError("install request missing extension id or version", nil).
				WithCode(extension.CodeInvalidRequest)
		}
		if seen[req.ExtensionID] {
			return nil, extension.NewValidationError(
				fmt.Sprintf("duplicate extension in batch: %s", req.ExtensionID), nil).
				WithCode(extension.CodeInvalidRequest)
		}
		seen[req.ExtensionID] = true
	}

	result := &InstallationResult{CheckedAt: s.now()}

	for _, req := range requests {
		checked, err := s.CheckCompatibility(ctx, req.ExtensionID, req.Version, compatCtx)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, checked)
	}

	// Pairwise checks inside the batch, both directions.
	requires := make(map[string][]string) // source -> targets it requires
	for _, a := range requests {
		for _, b := range requests {
			if a.ExtensionID == b.ExtensionID {
				continue
			}
			rel, err := s.store.GetDependencyCompatibility(ctx, a.ExtensionID, a.Version, b.ExtensionID)
			if err != nil {
				return nil, extension.NewInternalError("dependency compatibility lookup failed", err).
					WithCode(extension.CodeStoreFailure).WithExtension(a.ExtensionID)
			}
			if rel == nil {
				continue
			}
			switch rel.Compatibility {
			case RelationIncompatible:
				finding, err := s.pairwiseFinding(ctx, a.ExtensionID, a.Version, b.ExtensionID, b.Version)
				if err != nil {
					return nil, err
				}
				if finding != nil {
					result.BatchFindings = append(result.BatchFindings, *finding)
				}
			case RelationRequires:
				requires[a.ExtensionID] = append(requires[a.ExtensionID], b.ExtensionID)
			}
		}
	}

	order, cycle := orderByRequires(requests, requires)
	if len(cycle) > 0 {
		result.BatchFindings = append(result.BatchFindings, Finding{
			Code:     extension.CodeTransitiveDependency,
			Severity: severityError,
			Message:  fmt.Sprintf("requires cycle in batch: %s", joinCycle(cycle)),
		})
	}
	result.InstallationOrder = order

	result.Compatible = len(cycle) == 0 && !hasError(result.BatchFindings)
	for _, r := range result.Results {
		if !r.Compatible {
			result.Compatible = false
		}
	}
	return result, nil
}

// orderByRequires runs Kahn's algorithm over the batch with one edge per
// requires relationship (required extension first). The returned order is
// deterministic: ties break on extension ID. On a cycle the remaining
// members are appended in request order and the cycle is reported.
func orderByRequires(requests []InstallRequest, requires map[string][]string) (order []string, cycle []string) {
	inBatch := make(map[string]bool, len(requests))
	for _, req := range requests {
		inBatch[req.ExtensionID] = true
	}

	// dependents[x] lists batch members that require x; inDegree counts
	// unmet requirements per member.
	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(requests))
	for _, req := range requests {
		inDegree[req.ExtensionID] = 0
	}
	for source, targets := range requires {
		for _, target := range targets {
			if !inBatch[target] {
				continue
			}
			dependents[target] = append(dependents[target], source)
			inDegree[source]++
		}
	}

	ready := make([]string, 0, len(requests))
	for _, req := range requests {
		if inDegree[req.ExtensionID] == 0 {
			ready = append(ready, req.ExtensionID)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		released := append([]string(nil), dependents[next]...)
		sort.Strings(released)
		for _, dependent := range released {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(requests) {
		for _, req := range requests {
			if inDegree[req.ExtensionID] > 0 {
				cycle = append(cycle, req.ExtensionID)
				order = append(order, req.ExtensionID)
			}
		}
	}
	return order, cycle
}

func joinCycle(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
