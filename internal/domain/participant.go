// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxDisplayNameLen = 36
	MaxChatTextLen    = 500
)

var (
	ErrIDEmpty     = errors.New("participant id empty")
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
	ErrTextTooLong = errors.New("chat text too long")
	ErrTextEmpty   = errors.New("chat text empty")
)

type ParticipantID string

// Participant is externally assigned identity meta, immutable for the
// lifetime of a session.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"name"`
	AvatarRef   string        `json:"avatar"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, name, avatar string) (Participant, error) {
	if len(id) == 0 {
		return Participant{}, ErrIDEmpty
	}
	if len(name) == 0 {
		return Participant{}, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return Participant{}, ErrNameTooLong
	}
	return Participant{ID: id, DisplayName: name, AvatarRef: avatar}, nil
}
