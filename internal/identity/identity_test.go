package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/micro-nova/simcontacts/internal/identity"
)

func TestGetVersion_Fallback(t *testing.T) {
	dir := t.TempDir()
	if got := identity.GetVersionFromDir(dir); got != identity.DefaultVersion {
		t.Errorf("GetVersionFromDir(%q) = %q; want %q", dir, got, identity.DefaultVersion)
	}
	if got := identity.GetVersionFromDir(""); got != identity.DefaultVersion {
		t.Errorf("GetVersionFromDir(\"\") = %q; want %q", got, identity.DefaultVersion)
	}
}

func TestGetVersion_FromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, identity.MetadataFileName), []byte(`{"version":"2.1.0"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if got := identity.GetVersionFromDir(dir); got != "2.1.0" {
		t.Errorf("GetVersionFromDir(%q) = %q; want 2.1.0", dir, got)
	}
}

func TestGetVersion_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, identity.MetadataFileName), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := identity.GetVersionFromDir(dir); got != identity.DefaultVersion {
		t.Errorf("GetVersionFromDir with invalid JSON = %q; want %q", got, identity.DefaultVersion)
	}
}

func TestGet(t *testing.T) {
	info := identity.Get("", "mock")
	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}
	if info.Backend != "mock" || info.Version != identity.DefaultVersion {
		t.Errorf("Get() = %+v", info)
	}
}
