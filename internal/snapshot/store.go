// Package snapshot owns the published aggregate of SIM contacts: the vCard
// text, the transient file that holds it, and the change notification.
package snapshot

// Store persists the aggregate vCard text at a fixed location.
type Store interface {
	// Write replaces the stored text. Readers of Path never see a partial write.
	Write(data []byte) error

	// Path returns the file path of the materialized aggregate.
	Path() string

	// Remove deletes the materialized aggregate.
	Remove() error
}
