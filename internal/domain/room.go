package domain

type (
	RoomID    string
	ChannelID string
)
