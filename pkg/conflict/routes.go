package conflict

import "strings"

// Route pattern overlap uses a conservative segment rule: two templates
// overlap only when they have the same method, the same segment count,
// every literal pair matches exactly, and at least one position pairs two
// parameters. A parameter facing a literal is treated as non-overlapping
// ("/a/:id" vs "/a/users" does not overlap; "/a/:id" vs "/a/:name" does).
// Templates identical up to parameter spelling (":id" vs "{id}") are exact
// collisions, not overlaps.

type routeTemplate struct {
	method   string
	segments []string
}

func parseRouteKey(key string) (routeTemplate, bool) {
	method, path, ok := strings.Cut(key, ":")
	if !ok || method == "" || path == "" {
		return routeTemplate{}, false
	}
	return routeTemplate{
		method:   strings.ToUpper(method),
		segments: splitPath(path),
	}, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// isParam reports whether a path segment is a parameter placeholder in
// either of the common templating forms (":id" or "{id}").
func isParam(segment string) bool {
	if strings.HasPrefix(segment, ":") {
		return true
	}
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

// paramName extracts the parameter name from either spelling.
func paramName(segment string) string {
	if strings.HasPrefix(segment, ":") {
		return segment[1:]
	}
	if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
		return segment[1 : len(segment)-1]
	}
	return segment
}

// normalizeSegment collapses parameter spellings so ":id" and "{id}"
// compare equal, while ":id" and ":name" stay distinct.
func normalizeSegment(segment string) string {
	if isParam(segment) {
		return ":" + paramName(segment)
	}
	return segment
}

func sameTemplate(a, b routeTemplate) bool {
	if a.method != b.method || len(a.segments) != len(b.segments) {
		return false
	}
	for i := range a.segments {
		if normalizeSegment(a.segments[i]) != normalizeSegment(b.segments[i]) {
			return false
		}
	}
	return true
}

func templatesOverlap(a, b routeTemplate) bool {
	if a.method != b.method || len(a.segments) != len(b.segments) {
		return false
	}
	if sameTemplate(a, b) {
		return false
	}
	paramPair := false
	for i := range a.segments {
		sa, sb := a.segments[i], b.segments[i]
		pa, pb := isParam(sa), isParam(sb)
		switch {
		case pa && pb:
			paramPair = true
		case !pa && !pb:
			if sa != sb {
				return false
			}
		default:
			// Parameter facing a literal: conservatively non-overlapping.
			return false
		}
	}
	return paramPair
}
