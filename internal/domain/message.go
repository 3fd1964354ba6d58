package domain

type MessageID string

// ChatMessage is one entry of the room chat log. ID is globally unique and
// stable across edits; only Text changes in place.
type ChatMessage struct {
	ID        MessageID     `json:"id"`
	AuthorID  ParticipantID `json:"user_id"`
	Name      string        `json:"name"`
	Avatar    string        `json:"avatar"`
	Text      string        `json:"text"`
	CreatedAt int64         `json:"timestamp"`
	ChannelID ChannelID     `json:"channel_id,omitempty"`
}

// ValidateChatText enforces the caller-side contract on outbound chat text.
func ValidateChatText(text string) error {
	if len(text) == 0 {
		return ErrTextEmpty
	}
	if len(text) > MaxChatTextLen {
		return ErrTextTooLong
	}
	return nil
}
