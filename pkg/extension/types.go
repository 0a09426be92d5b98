// Package extension defines the core data model shared by the
// compatibility, conflict detection and deployment services: extension
// manifests, installed-extension snapshots, evaluation contexts and the
// platform error taxonomy.
package extension

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Type classifies what an extension contributes to the platform.
type Type string

const (
	TypeUIExtension    Type = "UI_EXTENSION"
	TypeBusinessLogic  Type = "BUSINESS_LOGIC"
	TypeDataExtension  Type = "DATA_EXTENSION"
	TypeIntegration    Type = "INTEGRATION"
	TypeInfrastructure Type = "INFRASTRUCTURE"
)

// InstalledStatus is the lifecycle status of an installed extension.
type InstalledStatus string

const (
	InstalledStatusActive   InstalledStatus = "active"
	InstalledStatusDisabled InstalledStatus = "disabled"
	InstalledStatusError    InstalledStatus = "error"
)

// Route is an HTTP route an extension wants to register.
type Route struct {
	Method  string `json:"method" yaml:"method" validate:"required"`
	Path    string `json:"path" yaml:"path" validate:"required"`
	Handler string `json:"handler,omitempty" yaml:"handler,omitempty"`
}

// Key returns the canonical "METHOD:path" form used for collision checks.
func (r Route) Key() string {
	return strings.ToUpper(r.Method) + ":" + r.Path
}

// Hook is a lifecycle hook an extension wants to attach to.
type Hook struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Event string `json:"event,omitempty" yaml:"event,omitempty"`
	Phase string `json:"phase,omitempty" yaml:"phase,omitempty"`
}

// Dependency declares that an extension needs another extension present.
type Dependency struct {
	ExtensionID  string `json:"extension_id" yaml:"extension_id" validate:"required"`
	VersionRange string `json:"version_range,omitempty" yaml:"version_range,omitempty"`
	Optional     bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Permission is a (resource, action) grant an extension requests.
type Permission struct {
	Resource string `json:"resource" yaml:"resource" validate:"required"`
	Action   string `json:"action" yaml:"action" validate:"required"`
}

// ResourceRequirements declares the runtime resources an extension needs.
type ResourceRequirements struct {
	MemoryMB int `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
}

// EntityField is a field of an extension-owned custom entity.
type EntityField struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// CustomEntity is a data entity an extension wants to own.
type CustomEntity struct {
	Name   string        `json:"name" yaml:"name" validate:"required"`
	Fields []EntityField `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// DataSchema groups the data-model contributions of an extension.
type DataSchema struct {
	CustomEntities []CustomEntity `json:"custom_entities,omitempty" yaml:"custom_entities,omitempty"`
}

// DeclaredConflict is a self-declared incompatibility in a manifest.
type DeclaredConflict struct {
	ExtensionID  string `json:"extension_id" yaml:"extension_id" validate:"required"`
	ConflictType string `json:"conflict_type,omitempty" yaml:"conflict_type,omitempty"`
	Reason       string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// MESVersionRequirement is the host platform version window an extension
// supports. Max empty means no upper bound.
type MESVersionRequirement struct {
	Min string `json:"min" yaml:"min" validate:"required"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// Manifest is the immutable per-version descriptor an extension ships.
type Manifest struct {
	ID                 string                `json:"id" yaml:"id" validate:"required"`
	Version            string                `json:"version" yaml:"version" validate:"required"`
	RequiredAPIVersion string                `json:"required_api_version,omitempty" yaml:"required_api_version,omitempty"`
	MESVersion         MESVersionRequirement `json:"mes_version" yaml:"mes_version"`
	Type               Type                  `json:"type" yaml:"type" validate:"required,oneof=UI_EXTENSION BUSINESS_LOGIC DATA_EXTENSION INTEGRATION INFRASTRUCTURE"`
	Routes             []Route               `json:"routes,omitempty" yaml:"routes,omitempty"`
	Hooks              []Hook                `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Dependencies       []Dependency          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Permissions        []Permission          `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Resources          ResourceRequirements  `json:"resources,omitempty" yaml:"resources,omitempty"`
	DataSchema         DataSchema            `json:"data_schema,omitempty" yaml:"data_schema,omitempty"`
	Conflicts          []DeclaredConflict    `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// InstalledInfo is the snapshot of one installed extension at evaluation
// time. RegisteredRoutes uses the "METHOD:path" form.
type InstalledInfo struct {
	ExtensionID      string             `json:"extension_id" yaml:"extension_id"`
	Version          string             `json:"version" yaml:"version"`
	Status           InstalledStatus    `json:"status" yaml:"status"`
	Capabilities     []string           `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Hooked           []string           `json:"hooked,omitempty" yaml:"hooked,omitempty"`
	RegisteredRoutes []string           `json:"registered_routes,omitempty" yaml:"registered_routes,omitempty"`
	CustomEntities   []string           `json:"custom_entities,omitempty" yaml:"custom_entities,omitempty"`
	DeclaredMemoryMB int                `json:"declared_memory_mb,omitempty" yaml:"declared_memory_mb,omitempty"`
	Permissions      []Permission       `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Conflicts        []DeclaredConflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// CompatibilityContext is the snapshot a candidate is evaluated against.
// It is assembled fresh per request and never persisted.
type CompatibilityContext struct {
	MESVersion           string          `json:"mes_version" yaml:"mes_version"`
	InstalledExtensions  []InstalledInfo `json:"installed_extensions,omitempty" yaml:"installed_extensions,omitempty"`
	PlatformCapabilities []string        `json:"platform_capabilities,omitempty" yaml:"platform_capabilities,omitempty"`
	TargetSite           string          `json:"target_site,omitempty" yaml:"target_site,omitempty"`
}

// Fingerprint returns a stable hash of the context, used as part of cache
// keys. Installed extensions and capabilities are order-insensitive.
func (c CompatibilityContext) Fingerprint() string {
	installed := make([]string, 0, len(c.InstalledExtensions))
	for _, info := range c.InstalledExtensions {
		installed = append(installed, info.ExtensionID+"@"+info.Version+":"+string(info.Status))
	}
	sort.Strings(installed)

	caps := append([]string(nil), c.PlatformCapabilities...)
	sort.Strings(caps)

	payload, _ := json.Marshal(struct {
		MES       string   `json:"mes"`
		Installed []string `json:"installed"`
		Caps      []string `json:"caps"`
		Site      string   `json:"site"`
	}{c.MESVersion, installed, caps, c.TargetSite})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// MultiTenancyContext carries the authenticated caller's scope. A set
// SiteID restricts the caller to that single site; empty means unscoped
// (platform operator).
type MultiTenancyContext struct {
	SiteID       string   `json:"site_id,omitempty" yaml:"site_id,omitempty"`
	EnterpriseID string   `json:"enterprise_id,omitempty" yaml:"enterprise_id,omitempty"`
	Roles        []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Permissions  []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// AllowsSite reports whether the caller may operate on the given site.
func (m MultiTenancyContext) AllowsSite(siteID string) bool {
	return m.SiteID == "" || m.SiteID == siteID
}
