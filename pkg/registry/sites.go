package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/machshop/extension-orchestrator/pkg/deploy"
	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// SiteProfile is the static description of a manufacturing site: which
// MES version it runs and which platform capabilities it offers.
type SiteProfile struct {
	SiteID               string   `yaml:"site_id" json:"site_id"`
	Name                 string   `yaml:"name,omitempty" json:"name,omitempty"`
	MESVersion           string   `yaml:"mes_version" json:"mes_version"`
	PlatformCapabilities []string `yaml:"platform_capabilities,omitempty" json:"platform_capabilities,omitempty"`
	BaseURL              string   `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// SiteCatalog assembles per-site compatibility contexts from site profile
// files, the deployment store and the manifest registry.
type SiteCatalog struct {
	baseDir   string
	store     deploy.Store
	manifests *Registry
}

// NewSiteCatalog creates a site catalog. The store supplies the live
// installed set; the registry expands each installation to its manifest.
func NewSiteCatalog(baseDir string, store deploy.Store, manifests *Registry) *SiteCatalog {
	return &SiteCatalog{
		baseDir:   baseDir,
		store:     store,
		manifests: manifests,
	}
}

// Profile loads the static profile of one site.
func (c *SiteCatalog) Profile(siteID string) (*SiteProfile, error) {
	path := filepath.Join(c.baseDir, "sites", siteID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site profile: %w", err)
	}

	var profile SiteProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse site profile YAML: %w", err)
	}
	if profile.SiteID == "" {
		profile.SiteID = siteID
	}
	if profile.MESVersion == "" {
		return nil, fmt.Errorf("site profile %s has no mes_version", path)
	}
	return &profile, nil
}

// BaseURL resolves the runtime base URL of a site, used by health probes.
func (c *SiteCatalog) BaseURL(siteID string) (string, error) {
	profile, err := c.Profile(siteID)
	if err != nil {
		return "", err
	}
	if profile.BaseURL == "" {
		return "", fmt.Errorf("site profile %s has no base_url", siteID)
	}
	return profile.BaseURL, nil
}

// SiteContext builds the compatibility context for one site: its MES
// version and capabilities from the profile, plus a snapshot of every
// extension currently deployed there.
func (c *SiteCatalog) SiteContext(ctx context.Context, siteID string) (*extension.CompatibilityContext, error) {
	profile, err := c.Profile(siteID)
	if err != nil {
		return nil, err
	}

	statuses, err := c.store.ListSiteExtensions(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list site extensions: %w", err)
	}

	installed := make([]extension.InstalledInfo, 0, len(statuses))
	for _, status := range statuses {
		if status.Deployment != deploy.DeploymentStatusCompleted {
			continue
		}
		info := extension.InstalledInfo{
			ExtensionID: status.ExtensionID,
			Version:     status.Version,
			Status:      installedStatus(status.Enabled),
		}
		// Manifest expansion is best effort; a missing manifest leaves
		// the snapshot with identity fields only.
		if manifest, err := c.manifests.GetManifest(ctx, status.ExtensionID, status.Version); err == nil {
			expandManifest(&info, manifest)
		}
		installed = append(installed, info)
	}

	return &extension.CompatibilityContext{
		MESVersion:           profile.MESVersion,
		InstalledExtensions:  installed,
		PlatformCapabilities: profile.PlatformCapabilities,
		TargetSite:           siteID,
	}, nil
}

func installedStatus(enabled deploy.EnabledStatus) extension.InstalledStatus {
	if enabled == deploy.EnabledStatusEnabled {
		return extension.InstalledStatusActive
	}
	return extension.InstalledStatusDisabled
}

// expandManifest fills the snapshot's claim sets from the manifest.
func expandManifest(info *extension.InstalledInfo, manifest *extension.Manifest) {
	for _, route := range manifest.Routes {
		info.RegisteredRoutes = append(info.RegisteredRoutes, route.Key())
	}
	for _, hook := range manifest.Hooks {
		info.Hooked = append(info.Hooked, hook.Name)
	}
	for _, entity := range manifest.DataSchema.CustomEntities {
		info.CustomEntities = append(info.CustomEntities, entity.Name)
	}
	info.DeclaredMemoryMB = manifest.Resources.MemoryMB
	info.Permissions = manifest.Permissions
	info.Conflicts = manifest.Conflicts
}
