package models

import "time"

// Snapshot is the published aggregate of all SIM phonebooks.
// A Snapshot value is never mutated after it is published.
type Snapshot struct {
	Contacts    string    `json:"contacts"`
	VCardFile   string    `json:"vcardFile"` // file:// URL of the materialized aggregate
	HasContacts bool      `json:"hasContacts"`
	Version     uint64    `json:"version"` // increments once per publish
	PublishedAt time.Time `json:"publishedAt,omitempty"`
}

// Info describes the running service.
type Info struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Backend  string `json:"backend"`
}
