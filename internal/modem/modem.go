// Package modem defines the capability interfaces the contacts controller
// consumes from a modem backend (oFono over D-Bus, raw AT over serial, or the
// in-process mock).
package modem

import "context"

// Handle identifies a modem slot. For oFono it is the modem's D-Bus object
// path, for AT modems the tty path.
type Handle string

// Phonebook reads the SIM phonebook of one modem.
type Phonebook interface {
	// Import reads every SIM contact and returns them as concatenated vCard
	// text. It blocks on the transport; cancelling ctx aborts the request and
	// releases whatever the backend holds for it.
	Import(ctx context.Context) (string, error)
}

// Modem is a single modem reported by a Manager.
type Modem interface {
	Handle() Handle

	// PhonebookValid reports whether the phonebook is currently readable.
	PhonebookValid() bool

	Phonebook() Phonebook
}

// Events receives presence and readiness edges from a Manager.
// Implementations must be safe for concurrent use.
type Events interface {
	ModemAdded(m Modem)
	ModemRemoved(h Handle)
	PhonebookValidityChanged(h Handle, valid bool)
}

// Manager enumerates modems and reports their appearance, removal and
// phonebook readiness.
type Manager interface {
	// Run reports every modem known at startup (ModemAdded, followed by
	// PhonebookValidityChanged(true) when its phonebook is already usable),
	// then streams changes until ctx is cancelled.
	Run(ctx context.Context, ev Events) error
}
