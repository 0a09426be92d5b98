package extension

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessageFormat(t *testing.T) {
	err := NewDeploymentError("rollout aborted", errors.New("boom")).
		WithSite("site-dallas").WithExtension("ext-quality")

	msg := err.Error()
	for _, want := range []string{"[deployment]", "rollout aborted", "site-dallas", "ext-quality", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestErrorBuilders(t *testing.T) {
	err := NewValidationError("bad request", nil).
		WithCode(CodeInvalidRequest).
		WithSite("site-1").
		WithExtension("ext-1").
		WithDetail("field", "target_version")

	if err.Kind != KindValidation {
		t.Errorf("kind = %s, want %s", err.Kind, KindValidation)
	}
	if err.Code != CodeInvalidRequest {
		t.Errorf("code = %s, want %s", err.Code, CodeInvalidRequest)
	}
	if err.SiteID != "site-1" || err.ExtensionID != "ext-1" {
		t.Errorf("scope = (%s, %s), want (site-1, ext-1)", err.SiteID, err.ExtensionID)
	}
	if err.Details["field"] != "target_version" {
		t.Errorf("detail field = %v", err.Details["field"])
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewInternalError("store write failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap did not return the cause")
	}
}

func TestErrorIsMatchesKindAndCode(t *testing.T) {
	err := NewNotFoundError("deployment missing", nil).WithCode(CodeDeploymentNotFound)

	if !errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Error("expected match on kind alone")
	}
	if !errors.Is(err, &Error{Kind: KindNotFound, Code: CodeDeploymentNotFound}) {
		t.Error("expected match on kind and code")
	}
	if errors.Is(err, &Error{Kind: KindNotFound, Code: CodeSiteExtensionNotFound}) {
		t.Error("matched despite different code")
	}
	if errors.Is(err, &Error{Kind: KindValidation}) {
		t.Error("matched despite different kind")
	}
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		err  error
		pred func(error) bool
		name string
	}{
		{NewValidationError("v", nil), IsValidation, "validation"},
		{NewNotFoundError("n", nil), IsNotFound, "not found"},
		{NewAccessDeniedError("a", nil), IsAccessDenied, "access denied"},
		{NewCompatibilityError("c", nil), IsCompatibility, "compatibility"},
		{NewDeploymentError("d", nil), IsDeployment, "deployment"},
	}
	for _, tt := range tests {
		if !tt.pred(tt.err) {
			t.Errorf("%s predicate rejected its own kind", tt.name)
		}
		// Predicates see through fmt.Errorf wrapping.
		wrapped := fmt.Errorf("context: %w", tt.err)
		if !tt.pred(wrapped) {
			t.Errorf("%s predicate failed on wrapped error", tt.name)
		}
	}

	if IsValidation(errors.New("plain")) {
		t.Error("predicate matched a plain error")
	}
	if IsNotFound(NewValidationError("v", nil)) {
		t.Error("predicate matched the wrong kind")
	}
}
