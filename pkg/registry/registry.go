// Package registry loads extension manifests and site profiles from a
// directory tree and assembles live compatibility contexts for sites.
//
// Layout under the base directory:
//
//	manifests/<extension-id>/<version>.yaml
//	sites/<site-id>.yaml
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// Registry resolves extension manifests from disk, caching parsed files.
type Registry struct {
	baseDir  string
	validate *validator.Validate

	mu        sync.RWMutex
	manifests map[string]*extension.Manifest
}

// New creates a manifest registry rooted at baseDir.
func New(baseDir string) *Registry {
	return &Registry{
		baseDir:   baseDir,
		validate:  validator.New(),
		manifests: make(map[string]*extension.Manifest),
	}
}

// GetManifest loads the manifest for one extension version.
func (r *Registry) GetManifest(_ context.Context, extensionID, version string) (*extension.Manifest, error) {
	key := extensionID + "@" + version

	r.mu.RLock()
	if m, ok := r.manifests[key]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	path := filepath.Join(r.baseDir, "manifests", extensionID, version+".yaml")
	manifest, err := r.loadManifest(path)
	if err != nil {
		return nil, err
	}
	if manifest.ID != extensionID || manifest.Version != version {
		return nil, fmt.Errorf("manifest %s declares %s@%s, expected %s@%s",
			path, manifest.ID, manifest.Version, extensionID, version)
	}

	r.mu.Lock()
	r.manifests[key] = manifest
	r.mu.Unlock()
	return manifest, nil
}

// loadManifest reads, parses and validates one manifest file.
func (r *Registry) loadManifest(path string) (*extension.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest extension.Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := r.validate.Struct(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &manifest, nil
}

// ListVersions returns the manifest versions available for an extension,
// derived from the files on disk.
func (r *Registry) ListVersions(extensionID string) ([]string, error) {
	dir := filepath.Join(r.baseDir, "manifests", extensionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".yaml" {
			continue
		}
		versions = append(versions, name[:len(name)-len(".yaml")])
	}
	return versions, nil
}
