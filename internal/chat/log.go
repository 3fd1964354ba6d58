// Package chat owns the session chat log and read-receipt state. Nothing here
// touches the transport; outward effects go through the emit callback.
package chat

import (
	"sync"

	"github.com/rs/zerolog/log"

	"voicemesh/internal/domain"
)

// MaxRetained bounds the in-memory log. Eviction is oldest-first and does not
// disturb ordering or cursor semantics.
const MaxRetained = 300

// Log is an append-ordered, deduplicated message log with per-channel read
// cursors, local and remote.
type Log struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
	present  map[domain.MessageID]struct{}

	local  map[domain.ChannelID]int64
	remote map[domain.ChannelID]map[domain.ParticipantID]int64

	now    func() int64
	onRead func(channel domain.ChannelID, ts int64)
}

// NewLog builds a log. now supplies wall-clock milliseconds; onRead fires
// whenever the local cursor is raised (nil to disable emission).
func NewLog(now func() int64, onRead func(channel domain.ChannelID, ts int64)) *Log {
	return &Log{
		present: make(map[domain.MessageID]struct{}),
		local:   make(map[domain.ChannelID]int64),
		remote:  make(map[domain.ChannelID]map[domain.ParticipantID]int64),
		now:     now,
		onRead:  onRead,
	}
}

// Ingest appends a message. A duplicate id is a no-op, even when the payload
// differs (network retries resend the same id).
func (l *Log) Ingest(msg domain.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.present[msg.ID]; ok {
		log.Debug().Str("module", "chat").Str("id", string(msg.ID)).Msg("duplicate message ignored")
		return false
	}
	l.messages = append(l.messages, msg)
	l.present[msg.ID] = struct{}{}
	if len(l.messages) > MaxRetained {
		evicted := l.messages[0]
		l.messages = append(l.messages[:0], l.messages[1:]...)
		delete(l.present, evicted.ID)
	}
	return true
}

// Edit replaces the text of an existing message in place. Absent id is a
// no-op. ID, author and timestamp never change.
func (l *Log) Edit(id domain.MessageID, newText string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.present[id]; !ok {
		return false
	}
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages[i].Text = newText
			return true
		}
	}
	return false
}

// Delete removes a message. Absent id is a no-op.
func (l *Log) Delete(id domain.MessageID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.present[id]; !ok {
		return false
	}
	delete(l.present, id)
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns the retained entries for one channel in arrival order.
func (l *Log) Messages(channel domain.ChannelID) []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ChatMessage, 0, len(l.messages))
	for _, m := range l.messages {
		if m.ChannelID == channel {
			out = append(out, m)
		}
	}
	return out
}

// Len reports the retained message count across all channels.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// MarkRead raises the local cursor for a channel to cover everything
// currently in it (and "now", whichever is later), then emits the new cursor
// outward. A call that would regress the cursor changes nothing and emits
// nothing.
func (l *Log) MarkRead(channel domain.ChannelID) int64 {
	l.mu.Lock()
	ts := l.now()
	for _, m := range l.messages {
		if m.ChannelID == channel && m.CreatedAt > ts {
			ts = m.CreatedAt
		}
	}
	cur := l.local[channel]
	if ts <= cur {
		l.mu.Unlock()
		return cur
	}
	l.local[channel] = ts
	emit := l.onRead
	l.mu.Unlock()

	if emit != nil {
		emit(channel, ts)
	}
	return ts
}

// LocalCursor returns the local read high-water mark for a channel.
func (l *Log) LocalCursor(channel domain.ChannelID) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.local[channel]
}

// ApplyRead merges a remote participant's cursor, max-wins. Cursors for
// channels with no retained messages are stored anyway and take effect once
// matching messages arrive.
func (l *Log) ApplyRead(channel domain.ChannelID, user domain.ParticipantID, ts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byUser, ok := l.remote[channel]
	if !ok {
		byUser = make(map[domain.ParticipantID]int64)
		l.remote[channel] = byUser
	}
	if ts > byUser[user] {
		byUser[user] = ts
	}
}

// Cursor returns the stored cursor for (channel, participant).
func (l *Log) Cursor(channel domain.ChannelID, user domain.ParticipantID) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remote[channel][user]
}

// ReadBy reports whether the given message has been read by participant p.
// Authors do not count as readers of their own messages.
func (l *Log) ReadBy(id domain.MessageID, p domain.ParticipantID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.messages {
		if m.ID != id {
			continue
		}
		if m.AuthorID == p {
			return false
		}
		return l.remote[m.ChannelID][p] >= m.CreatedAt
	}
	return false
}

// UnreadCount counts retained messages in a channel past the local cursor.
func (l *Log) UnreadCount(channel domain.ChannelID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cur := l.local[channel]
	n := 0
	for _, m := range l.messages {
		if m.ChannelID == channel && m.CreatedAt > cur {
			n++
		}
	}
	return n
}

// Clear drops all retained messages. Cursors survive: read state is
// independent of message retention.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	l.present = make(map[domain.MessageID]struct{})
}
