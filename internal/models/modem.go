// Package models defines the data exchanged between the contacts controller,
// the snapshot publisher and the HTTP layer.
package models

import (
	"fmt"

	"github.com/micro-nova/simcontacts/internal/modem"
)

// ImportState tracks a modem's phonebook import within the latest campaign.
type ImportState int

const (
	ImportNotStarted ImportState = iota
	ImportPending
	ImportSucceeded
	ImportFailed
)

func (s ImportState) String() string {
	switch s {
	case ImportNotStarted:
		return "not_started"
	case ImportPending:
		return "pending"
	case ImportSucceeded:
		return "succeeded"
	case ImportFailed:
		return "failed"
	}
	return fmt.Sprintf("ImportState(%d)", int(s))
}

// MarshalText encodes the state as its lowercase name.
func (s ImportState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (s *ImportState) UnmarshalText(b []byte) error {
	for _, st := range []ImportState{ImportNotStarted, ImportPending, ImportSucceeded, ImportFailed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown import state %q", b)
}

// ModemStatus is the registry's record of one known modem.
type ModemStatus struct {
	Handle         modem.Handle `json:"handle"`
	PhonebookValid bool         `json:"phonebook_valid"`
	ImportState    ImportState  `json:"import_state"`
}

// ImportResult is one modem's contribution to a campaign.
type ImportResult struct {
	Handle modem.Handle
	VCard  string
}

// CampaignPhase is the controller's position in the import state machine.
type CampaignPhase string

const (
	PhaseIdle      CampaignPhase = "idle"
	PhaseQueuing   CampaignPhase = "queuing"
	PhaseImporting CampaignPhase = "importing"
)

// CampaignInfo describes the active campaign, if any.
type CampaignInfo struct {
	ID        uint64        `json:"id"`
	Phase     CampaignPhase `json:"phase"`
	Current   modem.Handle  `json:"current,omitempty"`
	Queued    int           `json:"queued"`
	Collected int           `json:"collected"`
}
