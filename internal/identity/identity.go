// Package identity reports who this daemon is: host, version and backend.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/micro-nova/simcontacts/internal/models"
)

// DefaultVersion is the fallback version string when metadata.json is not found.
const DefaultVersion = "0.1.0"

// MetadataFileName is read from the data directory for the release version.
const MetadataFileName = "metadata.json"

// GetHostname returns the system hostname.
func GetHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "simcontacts"
	}
	return h
}

// GetVersionFromDir reads the version from dir/metadata.json.
// Falls back to DefaultVersion if dir is empty or the file is unreadable.
func GetVersionFromDir(dir string) string {
	if dir == "" {
		return DefaultVersion
	}
	data, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if err != nil {
		return DefaultVersion
	}

	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Version == "" {
		return DefaultVersion
	}
	return meta.Version
}

// Get assembles the identity served by /api/info.
func Get(dataDir, backend string) models.Info {
	return models.Info{
		Hostname: GetHostname(),
		Version:  GetVersionFromDir(dataDir),
		Backend:  backend,
	}
}
