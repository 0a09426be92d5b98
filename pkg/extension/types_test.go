package extension

import "testing"

func TestRouteKey(t *testing.T) {
	r := Route{Method: "get", Path: "/api/widgets/:id"}
	if got := r.Key(); got != "GET:/api/widgets/:id" {
		t.Errorf("Key() = %q", got)
	}
}

func TestFingerprintOrderInsensitive(t *testing.T) {
	a := CompatibilityContext{
		MESVersion:           "5.2.0",
		PlatformCapabilities: []string{"workflow-engine", "audit-log"},
		InstalledExtensions: []InstalledInfo{
			{ExtensionID: "ext-a", Version: "1.0.0", Status: InstalledStatusActive},
			{ExtensionID: "ext-b", Version: "2.0.0", Status: InstalledStatusActive},
		},
	}
	b := CompatibilityContext{
		MESVersion:           "5.2.0",
		PlatformCapabilities: []string{"audit-log", "workflow-engine"},
		InstalledExtensions: []InstalledInfo{
			{ExtensionID: "ext-b", Version: "2.0.0", Status: InstalledStatusActive},
			{ExtensionID: "ext-a", Version: "1.0.0", Status: InstalledStatusActive},
		},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint changed with element order")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := CompatibilityContext{MESVersion: "5.2.0"}

	differentMES := base
	differentMES.MESVersion = "5.3.0"
	if base.Fingerprint() == differentMES.Fingerprint() {
		t.Error("fingerprint ignored MES version")
	}

	withInstall := base
	withInstall.InstalledExtensions = []InstalledInfo{{ExtensionID: "ext-a", Version: "1.0.0"}}
	if base.Fingerprint() == withInstall.Fingerprint() {
		t.Error("fingerprint ignored installed extensions")
	}

	disabled := withInstall
	disabled.InstalledExtensions = []InstalledInfo{{ExtensionID: "ext-a", Version: "1.0.0", Status: InstalledStatusDisabled}}
	if withInstall.Fingerprint() == disabled.Fingerprint() {
		t.Error("fingerprint ignored installed status")
	}
}

func TestAllowsSite(t *testing.T) {
	unscoped := MultiTenancyContext{}
	if !unscoped.AllowsSite("site-anywhere") {
		t.Error("unscoped context should allow every site")
	}

	scoped := MultiTenancyContext{SiteID: "site-dallas"}
	if !scoped.AllowsSite("site-dallas") {
		t.Error("scoped context should allow its own site")
	}
	if scoped.AllowsSite("site-austin") {
		t.Error("scoped context allowed a foreign site")
	}
}
