// Package compat implements the compatibility matrix service: it answers
// whether a given extension version can run under a platform version,
// capability set and installed-extension population, using the
// compatibility matrix reference data.
package compat

import (
	"context"
	"time"
)

// RelationType is the declared relationship between two extensions.
type RelationType string

const (
	RelationRequires     RelationType = "requires"
	RelationCompatible   RelationType = "compatible"
	RelationIncompatible RelationType = "incompatible"
	RelationOptional     RelationType = "optional"
)

// Record is the authoritative compatibility row for one extension version.
// Absence of a record is itself a conflict, not an implicit pass.
type Record struct {
	ExtensionID          string    `json:"extension_id" yaml:"extension_id"`
	ExtensionVersion     string    `json:"extension_version" yaml:"extension_version"`
	MESVersionMin        string    `json:"mes_version_min" yaml:"mes_version_min"`
	MESVersionMax        string    `json:"mes_version_max,omitempty" yaml:"mes_version_max,omitempty"`
	PlatformCapabilities []string  `json:"platform_capabilities,omitempty" yaml:"platform_capabilities,omitempty"`
	Tested               bool      `json:"tested" yaml:"tested"`
	TestStatus           string    `json:"test_status,omitempty" yaml:"test_status,omitempty"`
	UpdatedAt            time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// DependencyRecord declares how one extension version relates to another
// extension. Optional version bounds scope the declaration to a window of
// the target extension; empty bounds cover every version.
type DependencyRecord struct {
	SourceExtensionID string       `json:"source_extension_id" yaml:"source_extension_id"`
	SourceVersion     string       `json:"source_version" yaml:"source_version"`
	TargetExtensionID string       `json:"target_extension_id" yaml:"target_extension_id"`
	Compatibility     RelationType `json:"compatibility" yaml:"compatibility"`
	TargetVersionMin  string       `json:"target_version_min,omitempty" yaml:"target_version_min,omitempty"`
	TargetVersionMax  string       `json:"target_version_max,omitempty" yaml:"target_version_max,omitempty"`
	ConflictType      string       `json:"conflict_type,omitempty" yaml:"conflict_type,omitempty"`
}

// MatrixStore is the persistence boundary for compatibility reference
// data. Lookups return nil (not an error) when no row exists.
type MatrixStore interface {
	GetCompatibilityRecord(ctx context.Context, extensionID, version string) (*Record, error)
	ListCompatibilityRecords(ctx context.Context, extensionID string) ([]*Record, error)
	UpsertCompatibilityRecord(ctx context.Context, record *Record) error

	GetDependencyCompatibility(ctx context.Context, sourceID, sourceVersion, targetID string) (*DependencyRecord, error)
	UpsertDependencyCompatibility(ctx context.Context, record *DependencyRecord) error
}

// Finding is one reason an extension is, or may be, incompatible.
type Finding struct {
	// Code is the stable incompatibility code (NO_COMPATIBILITY_RECORD,
	// MES_VERSION_INCOMPATIBLE, MISSING_PLATFORM_CAPABILITY,
	// EXTENSION_INCOMPATIBLE, TRANSITIVE_DEPENDENCY).
	Code string `json:"code"`

	// Severity is ERROR for blocking findings.
	Severity string `json:"severity"`

	Message string `json:"message"`

	// ConflictingExtensionID names the installed extension involved, when
	// the finding is about a pairwise incompatibility.
	ConflictingExtensionID string `json:"conflicting_extension_id,omitempty"`

	// Capability names the missing platform capability, when relevant.
	Capability string `json:"capability,omitempty"`
}

// CheckResult is the verdict for one (extension, version) pair.
type CheckResult struct {
	ExtensionID      string `json:"extension_id"`
	ExtensionVersion string `json:"extension_version"`

	// Compatible is true iff no ERROR-severity finding exists.
	Compatible bool `json:"compatible"`

	Findings    []Finding `json:"findings,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`

	CheckedAt time.Time `json:"checked_at"`

	// Cached is true when served from the result cache.
	Cached bool `json:"cached"`
}

// InstallRequest names one extension version in a batch installation.
type InstallRequest struct {
	ExtensionID string `json:"extension_id" validate:"required"`
	Version     string `json:"version" validate:"required"`
}

// InstallationResult is the verdict for a batch installation.
type InstallationResult struct {
	// Compatible is false if any per-extension check or any pairwise
	// batch check failed.
	Compatible bool `json:"compatible"`

	// Results holds the individual verdicts, one per request.
	Results []*CheckResult `json:"results"`

	// BatchFindings holds pairwise findings between batch members and
	// ordering findings (cycles).
	BatchFindings []Finding `json:"batch_findings,omitempty"`

	// InstallationOrder sequences the batch so extensions with explicit
	// requires relationships precede their dependents.
	InstallationOrder []string `json:"installation_order"`

	CheckedAt time.Time `json:"checked_at"`
}

const severityError = "ERROR"
