package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// ConfigurationUpdate replaces one or more layers of a site extension's
// configuration. Nil layers are left untouched; a non-nil empty map clears
// the layer.
type ConfigurationUpdate struct {
	SiteID             string         `json:"site_id" validate:"required"`
	ExtensionID        string         `json:"extension_id" validate:"required"`
	ExtensionDefaults  map[string]any `json:"extension_defaults,omitempty"`
	EnterpriseSettings map[string]any `json:"enterprise_settings,omitempty"`
	SiteOverrides      map[string]any `json:"site_overrides,omitempty"`
}

// GetSiteExtensionConfiguration returns the layered configuration with the
// effective merge. Sites with no stored row get an empty configuration.
func (s *Service) GetSiteExtensionConfiguration(ctx context.Context, siteID, extensionID string, tenant *extension.MultiTenancyContext) (*Configuration, error) {
	if err := s.guardSite(siteID, tenant); err != nil {
		return nil, err
	}

	cfg, err := s.store.GetConfiguration(ctx, siteID, extensionID)
	if err != nil {
		return nil, extension.NewInternalError("configuration lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID).WithExtension(extensionID)
	}
	if cfg == nil {
		cfg = &Configuration{
			SiteID:      siteID,
			ExtensionID: extensionID,
			Effective:   map[string]any{},
		}
		cfg.ConfigHash = hashConfig(cfg.Effective)
	}
	return cfg, nil
}

// UpdateSiteExtensionConfiguration applies a layer update, recomputes the
// effective merge and hash, persists the row and stamps the hash onto the
// site extension status when the extension is deployed.
func (s *Service) UpdateSiteExtensionConfiguration(ctx context.Context, update *ConfigurationUpdate, tenant *extension.MultiTenancyContext) (*Configuration, error) {
	if update == nil {
		return nil, extension.NewValidationError("configuration update is required", nil).
			WithCode(extension.CodeInvalidRequest)
	}
	if err := s.validate.Struct(update); err != nil {
		return nil, extension.NewValidationError("invalid configuration update", err).
			WithCode(extension.CodeInvalidRequest)
	}
	if err := s.guardSite(update.SiteID, tenant); err != nil {
		return nil, err
	}

	cfg, err := s.store.GetConfiguration(ctx, update.SiteID, update.ExtensionID)
	if err != nil {
		return nil, extension.NewInternalError("configuration lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(update.SiteID).WithExtension(update.ExtensionID)
	}
	if cfg == nil {
		cfg = &Configuration{SiteID: update.SiteID, ExtensionID: update.ExtensionID}
	}

	if update.ExtensionDefaults != nil {
		cfg.ExtensionDefaults = update.ExtensionDefaults
	}
	if update.EnterpriseSettings != nil {
		cfg.EnterpriseSettings = update.EnterpriseSettings
	}
	if update.SiteOverrides != nil {
		cfg.SiteOverrides = update.SiteOverrides
	}

	cfg.Effective = mergeLayers(cfg.ExtensionDefaults, cfg.EnterpriseSettings, cfg.SiteOverrides)
	cfg.ConfigHash = hashConfig(cfg.Effective)
	cfg.UpdatedAt = s.now()

	if err := s.store.UpsertConfiguration(ctx, cfg); err != nil {
		return nil, extension.NewInternalError("configuration upsert failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(update.SiteID).WithExtension(update.ExtensionID)
	}

	status, err := s.store.GetSiteExtension(ctx, update.SiteID, update.ExtensionID)
	if err != nil {
		return nil, extension.NewInternalError("site extension lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(update.SiteID).WithExtension(update.ExtensionID)
	}
	if status != nil {
		status.ConfigHash = cfg.ConfigHash
		status.UpdatedAt = s.now()
		if err := s.store.UpsertSiteExtension(ctx, status); err != nil {
			return nil, extension.NewInternalError("site extension config hash update failed", err).
				WithCode(extension.CodeStoreFailure).WithSite(update.SiteID).WithExtension(update.ExtensionID)
		}
	}

	s.log.WithSiteID(update.SiteID).WithExtensionID(update.ExtensionID).
		Infof("configuration updated, hash %s", cfg.ConfigHash)
	return cfg, nil
}

// mergeLayers combines the three configuration layers key by key, with
// site overrides beating enterprise settings beating extension defaults.
func mergeLayers(defaults, enterprise, overrides map[string]any) map[string]any {
	effective := make(map[string]any)
	for _, layer := range []map[string]any{defaults, enterprise, overrides} {
		for key, value := range layer {
			effective[key] = value
		}
	}
	return effective
}

// hashConfig produces a stable sha256 hex digest of the effective
// configuration, with keys serialized in sorted order.
func hashConfig(effective map[string]any) string {
	keys := make([]string, 0, len(effective))
	for key := range effective {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		value, err := json.Marshal(effective[key])
		if err != nil {
			value = []byte(fmt.Sprintf("%v", effective[key]))
		}
		fmt.Fprintf(h, "%s=%s;", key, value)
	}
	return hex.EncodeToString(h.Sum(nil))
}
