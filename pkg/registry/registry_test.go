package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const widgetManifest = `id: ext-widgets
version: 1.2.0
type: BUSINESS_LOGIC
mes_version:
  min: 5.0.0
  max: 5.4.0
routes:
  - method: GET
    path: /api/widgets
  - method: POST
    path: /api/widgets
hooks:
  - name: workorder.completed
resources:
  memory_mb: 256
data_schema:
  custom_entities:
    - name: WidgetBatch
permissions:
  - resource: workorders
    action: read
conflicts:
  - extension_id: ext-legacy-widgets
    reason: replaces the legacy widget module
`

func writeManifestFile(t *testing.T, baseDir, extensionID, version, content string) {
	t.Helper()
	dir := filepath.Join(baseDir, "manifests", extensionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create manifest dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, version+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestGetManifest(t *testing.T) {
	baseDir := t.TempDir()
	writeManifestFile(t, baseDir, "ext-widgets", "1.2.0", widgetManifest)

	r := New(baseDir)
	manifest, err := r.GetManifest(context.Background(), "ext-widgets", "1.2.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifest.ID != "ext-widgets" || manifest.Version != "1.2.0" {
		t.Errorf("identity = %s@%s", manifest.ID, manifest.Version)
	}
	if manifest.MESVersion.Min != "5.0.0" || manifest.MESVersion.Max != "5.4.0" {
		t.Errorf("mes window = [%s, %s]", manifest.MESVersion.Min, manifest.MESVersion.Max)
	}
	if len(manifest.Routes) != 2 || manifest.Routes[0].Key() != "GET:/api/widgets" {
		t.Errorf("routes = %v", manifest.Routes)
	}
	if len(manifest.Hooks) != 1 || manifest.Hooks[0].Name != "workorder.completed" {
		t.Errorf("hooks = %v", manifest.Hooks)
	}
	if manifest.Resources.MemoryMB != 256 {
		t.Errorf("memory = %d", manifest.Resources.MemoryMB)
	}
	if len(manifest.DataSchema.CustomEntities) != 1 || manifest.DataSchema.CustomEntities[0].Name != "WidgetBatch" {
		t.Errorf("entities = %v", manifest.DataSchema.CustomEntities)
	}
	if len(manifest.Conflicts) != 1 || manifest.Conflicts[0].ExtensionID != "ext-legacy-widgets" {
		t.Errorf("conflicts = %v", manifest.Conflicts)
	}
}

func TestGetManifestIdentityMismatch(t *testing.T) {
	baseDir := t.TempDir()
	// File placed under 2.0.0 but declaring 1.2.0.
	writeManifestFile(t, baseDir, "ext-widgets", "2.0.0", widgetManifest)

	r := New(baseDir)
	_, err := r.GetManifest(context.Background(), "ext-widgets", "2.0.0")
	if err == nil {
		t.Fatal("expected identity mismatch error")
	}
	if !strings.Contains(err.Error(), "declares") {
		t.Errorf("error = %v", err)
	}
}

func TestGetManifestMissing(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.GetManifest(context.Background(), "ext-nope", "1.0.0"); err == nil {
		t.Fatal("expected error for a missing manifest")
	}
}

func TestGetManifestInvalid(t *testing.T) {
	baseDir := t.TempDir()
	writeManifestFile(t, baseDir, "ext-bad", "1.0.0", "id: ext-bad\nversion: 1.0.0\n")

	r := New(baseDir)
	// Type is required and missing.
	if _, err := r.GetManifest(context.Background(), "ext-bad", "1.0.0"); err == nil {
		t.Fatal("expected validation error for a manifest without a type")
	}
}

func TestGetManifestCached(t *testing.T) {
	baseDir := t.TempDir()
	writeManifestFile(t, baseDir, "ext-widgets", "1.2.0", widgetManifest)

	r := New(baseDir)
	first, err := r.GetManifest(context.Background(), "ext-widgets", "1.2.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Removing the file does not evict the cached parse.
	if err := os.Remove(filepath.Join(baseDir, "manifests", "ext-widgets", "1.2.0.yaml")); err != nil {
		t.Fatalf("failed to remove manifest: %v", err)
	}
	second, err := r.GetManifest(context.Background(), "ext-widgets", "1.2.0")
	if err != nil {
		t.Fatalf("expected cached manifest, got %v", err)
	}
	if second != first {
		t.Error("expected the cached manifest instance")
	}
}

func TestListVersions(t *testing.T) {
	baseDir := t.TempDir()
	writeManifestFile(t, baseDir, "ext-widgets", "1.0.0", widgetManifest)
	writeManifestFile(t, baseDir, "ext-widgets", "1.2.0", widgetManifest)

	r := New(baseDir)
	versions, err := r.ListVersions("ext-widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %v", versions)
	}

	none, err := r.ListVersions("ext-unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for an unknown extension, got %v", none)
	}
}
