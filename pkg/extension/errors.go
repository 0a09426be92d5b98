package extension

import (
	"errors"
	"fmt"
)

// ErrorKind classifies platform errors so the surrounding transport layer
// can map them to a stable status code family.
type ErrorKind string

const (
	// KindValidation indicates a malformed request. Never retried.
	KindValidation ErrorKind = "validation"

	// KindNotFound indicates an unknown site, extension or deployment.
	KindNotFound ErrorKind = "not_found"

	// KindAccessDenied indicates a multi-tenancy scope violation. Raised
	// before any store mutation.
	KindAccessDenied ErrorKind = "access_denied"

	// KindCompatibility indicates a failed compatibility or conflict gate.
	KindCompatibility ErrorKind = "compatibility"

	// KindDeployment indicates a deployment-engine-internal failure.
	KindDeployment ErrorKind = "deployment"

	// KindInternal indicates an unexpected internal failure.
	KindInternal ErrorKind = "internal"
)

// Error is the classified error used across the orchestrator.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Code is a stable machine-readable code (e.g. NO_COMPATIBILITY_RECORD).
	Code string `json:"code,omitempty"`

	// Message is the human-readable message.
	Message string `json:"message"`

	// SiteID and ExtensionID carry the scope the error occurred in.
	SiteID      string `json:"site_id,omitempty"`
	ExtensionID string `json:"extension_id,omitempty"`

	// Details holds additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`

	// Err is the wrapped cause.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.SiteID != "" || e.ExtensionID != "" {
		msg += fmt.Sprintf(" (site=%s, extension=%s)", e.SiteID, e.ExtensionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind and, when set on the target, code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: err}
}

// NewAccessDeniedError creates an access-denied error.
func NewAccessDeniedError(message string, err error) *Error {
	return &Error{Kind: KindAccessDenied, Message: message, Err: err}
}

// NewCompatibilityError creates a compatibility error.
func NewCompatibilityError(message string, err error) *Error {
	return &Error{Kind: KindCompatibility, Message: message, Err: err}
}

// NewDeploymentError creates a deployment-engine error.
func NewDeploymentError(message string, err error) *Error {
	return &Error{Kind: KindDeployment, Message: message, Err: err}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// WithCode attaches a stable error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithSite attaches site scope.
func (e *Error) WithSite(siteID string) *Error {
	e.SiteID = siteID
	return e
}

// WithExtension attaches extension scope.
func (e *Error) WithExtension(extensionID string) *Error {
	e.ExtensionID = extensionID
	return e
}

// WithDetail attaches one detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func kindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsAccessDenied reports whether err is classified as access-denied.
func IsAccessDenied(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAccessDenied
}

// IsCompatibility reports whether err is classified as a compatibility error.
func IsCompatibility(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCompatibility
}

// IsDeployment reports whether err is classified as a deployment error.
func IsDeployment(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDeployment
}

// Common error codes.
const (
	CodeNoCompatibilityRecord      = "NO_COMPATIBILITY_RECORD"
	CodeMESVersionIncompatible     = "MES_VERSION_INCOMPATIBLE"
	CodeMissingPlatformCapability  = "MISSING_PLATFORM_CAPABILITY"
	CodeExtensionIncompatible      = "EXTENSION_INCOMPATIBLE"
	CodeTransitiveDependency       = "TRANSITIVE_DEPENDENCY"
	CodePreDeploymentCheckFailed   = "PRE_DEPLOYMENT_CHECK_FAILED"
	CodePostDeploymentCheckFailed  = "POST_DEPLOYMENT_CHECK_FAILED"
	CodeDeploymentInProgress       = "DEPLOYMENT_IN_PROGRESS"
	CodeHealthProbeFailed          = "HEALTH_PROBE_FAILED"
	CodeSiteScopeViolation         = "SITE_SCOPE_VIOLATION"
	CodeDeploymentNotFound         = "DEPLOYMENT_NOT_FOUND"
	CodeSiteExtensionNotFound      = "SITE_EXTENSION_NOT_FOUND"
	CodeRollbackSourceMissing      = "ROLLBACK_SOURCE_MISSING"
	CodeInvalidRequest             = "INVALID_REQUEST"
	CodeStoreFailure               = "STORE_FAILURE"
)
