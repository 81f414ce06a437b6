package reputation

import (
	"encoding/hex"
	"strconv"

	"escrowledger/core/types"
)

const (
	// EventTypeCredentialMinted is emitted when a completion credential is
	// issued.
	EventTypeCredentialMinted = "reputation.credential_minted"
)

type credentialEvent struct {
	evt *types.Event
}

func (e credentialEvent) EventType() string { return e.evt.Type }

func (e credentialEvent) Event() *types.Event { return e.evt }

// NewCredentialMintedEvent returns the canonical event payload for a minted
// credential.
func NewCredentialMintedEvent(c *Credential, score uint64) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: EventTypeCredentialMinted, Attributes: attrs}
	}
	attrs["credentialId"] = hex.EncodeToString(c.ID[:])
	attrs["subject"] = hex.EncodeToString(c.Subject[:])
	attrs["jobId"] = strconv.FormatUint(c.JobID, 10)
	attrs["rating"] = strconv.Itoa(int(c.Rating))
	attrs["points"] = strconv.FormatUint(c.Points, 10)
	attrs["score"] = strconv.FormatUint(score, 10)
	attrs["issuedAt"] = strconv.FormatUint(c.IssuedAt, 10)
	return &types.Event{Type: EventTypeCredentialMinted, Attributes: attrs}
}
