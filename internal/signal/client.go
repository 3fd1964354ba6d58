package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait     = 5 * time.Second
	sendQueueSize = 32
)

// Handler receives every decoded inbound event. Calls are serialized: the
// read pump delivers one event at a time, so implementations never see two
// inbound events concurrently.
type Handler interface {
	OnIdentified()
	OnRoomUsers(users []domain.Participant)
	OnUserJoined(user domain.Participant)
	OnUserLeft(id domain.ParticipantID)
	OnOffer(sender domain.ParticipantID, sdp string)
	OnAnswer(sender domain.ParticipantID, sdp string)
	OnCandidate(sender domain.ParticipantID, candidate string)
	OnChatMessage(msg domain.ChatMessage)
	OnMessageEdited(id domain.MessageID, newText string)
	OnMessageDeleted(id domain.MessageID)
	OnMessageRead(channel domain.ChannelID, user domain.ParticipantID, ts int64)
	// OnTransportClosed fires once when the connection is gone, expectedly or
	// not. All state derived from this connection must be treated as invalid.
	OnTransportClosed(err error)
}

// Client is one live connection to the rendezvous server. At most one per
// local session; reconnect is caller-driven.
type Client struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool

	handler Handler
}

// Dial connects to the rendezvous endpoint and starts the pumps. The ctx
// bounds the dial only; connection lifetime is governed by Close and the
// remote end.
func Dial(ctx context.Context, url string, handler Handler) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    conn,
		send:    make(chan core.Frame, sendQueueSize),
		handler: handler,
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// TrySend queues a frame for delivery. A send on a closed connection is a
// silent no-op; a full queue drops the frame and reports backpressure.
func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Send marshals v and queues it. Marshal or queue failures are logged and
// dropped; the caller must not block on transport health.
func (c *Client) Send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("send dropped")
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	var readErr error
	defer func() {
		c.Close()
		c.handler.OnTransportClosed(readErr)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				readErr = err
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one inbound frame and routes it. Malformed payloads are
// dropped with a diagnostic, never fatal to the loop.
func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case TypeIdentified:
		c.handler.OnIdentified()
	case TypeRoomUsers:
		var p RoomUsers
		if !c.decode(data, &p, env.Type) {
			return
		}
		users := make([]domain.Participant, 0, len(p.Users))
		for _, u := range p.Users {
			users = append(users, u.Participant())
		}
		c.handler.OnRoomUsers(users)
	case TypeUserJoined:
		var p UserJoined
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnUserJoined(p.Participant())
	case TypeUserLeft:
		var p UserLeft
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnUserLeft(domain.ParticipantID(p.UserID))
	case TypeOffer:
		var p SessionExchange
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnOffer(domain.ParticipantID(p.Sender), p.SDP)
	case TypeAnswer:
		var p SessionExchange
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnAnswer(domain.ParticipantID(p.Sender), p.SDP)
	case TypeIceCandidate:
		var p IceCandidate
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnCandidate(domain.ParticipantID(p.Sender), p.Candidate)
	case TypeChatMessage:
		var p ChatBroadcast
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnChatMessage(p.Message())
	case TypeMessageEdited:
		var p MessageEdited
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnMessageEdited(domain.MessageID(p.MessageID), p.NewText)
	case TypeMessageDeleted:
		var p MessageDeleted
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnMessageDeleted(domain.MessageID(p.MessageID))
	case TypeMessageRead:
		var p MessageRead
		if !c.decode(data, &p, env.Type) {
			return
		}
		c.handler.OnMessageRead(domain.ChannelID(p.ChannelID), domain.ParticipantID(p.UserID), p.Timestamp)
	case TypeError:
		var p ErrorEvent
		if !c.decode(data, &p, env.Type) {
			return
		}
		log.Warn().Str("module", "signal").Str("message", p.Message).Msg("server error event")
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (c *Client) decode(data []byte, v any, typ string) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("bad payload")
		return false
	}
	return true
}
