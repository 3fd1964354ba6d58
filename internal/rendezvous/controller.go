package rendezvous

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
	"voicemesh/internal/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller accepts signaling connections and routes the event taxonomy:
// membership, targeted negotiation relay, room-wide chat fan-out.
type Controller struct {
	Registry  *Registry
	ReadLimit int64
}

func NewController(reg *Registry) *Controller {
	return &Controller{Registry: reg}
}

func (ctl *Controller) HandleSignal(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	log.Info().Str("module", "rendezvous").Str("token", c.GetString("client_token")).Msg("new connection")

	conn := newWSConn(ws)
	go conn.writePump()
	ctl.readPump(conn)
}

func (ctl *Controller) readPump(conn *wsConn) {
	var uid domain.ParticipantID
	defer func() {
		conn.Close()
		ctl.onDisconnect(conn, uid)
	}()

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "rendezvous").Str("user", string(uid)).Msg("readPump done")
			return
		}
		ctl.handle(conn, &uid, data)
	}
}

func (ctl *Controller) onDisconnect(conn *wsConn, uid domain.ParticipantID) {
	if uid == "" {
		return
	}
	room, inRoom := ctl.Registry.Remove(uid, conn)
	log.Info().Str("module", "rendezvous").Str("user", string(uid)).Msg("disconnected")
	if inRoom {
		ctl.broadcast(room, uid, signal.UserLeft{Type: signal.TypeUserLeft, UserID: string(uid)})
	}
}

func (ctl *Controller) handle(conn *wsConn, uid *domain.ParticipantID, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad json")
		ctl.sendJSON(conn, signal.ErrorEvent{Type: signal.TypeError, Message: "invalid message payload"})
		return
	}

	switch env.Type {
	case signal.TypeIdentify:
		ctl.handleIdentify(conn, uid, data)
	case signal.TypeJoinRoom:
		ctl.handleJoin(conn, *uid, data)
	case signal.TypeLeaveRoom:
		ctl.handleLeave(*uid)
	case signal.TypeOffer, signal.TypeAnswer:
		ctl.relayExchange(*uid, env.Type, data)
	case signal.TypeIceCandidate:
		ctl.relayCandidate(*uid, data)
	case signal.TypeChatMessage:
		ctl.handleChat(*uid, data)
	case signal.TypeEditMessage:
		ctl.handleEdit(*uid, data)
	case signal.TypeDeleteMessage:
		ctl.handleDelete(*uid, data)
	case signal.TypeMessageRead:
		ctl.handleRead(*uid, data)
	default:
		log.Warn().Str("module", "rendezvous").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) handleIdentify(conn *wsConn, uid *domain.ParticipantID, data []byte) {
	var p signal.Identify
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad identify payload")
		ctl.sendJSON(conn, signal.ErrorEvent{Type: signal.TypeError, Message: "invalid message payload"})
		return
	}
	participant, err := domain.NewParticipant(domain.ParticipantID(p.UserID), p.Name, p.Avatar)
	if err != nil {
		ctl.sendJSON(conn, signal.ErrorEvent{Type: signal.TypeError, Message: err.Error()})
		return
	}
	*uid = participant.ID
	ctl.Registry.Identify(participant, conn)
	ctl.sendJSON(conn, signal.Identified{Type: signal.TypeIdentified, Success: true})
}

func (ctl *Controller) handleJoin(conn *wsConn, uid domain.ParticipantID, data []byte) {
	if uid == "" {
		ctl.sendJSON(conn, signal.ErrorEvent{Type: signal.TypeError, Message: "identify first"})
		return
	}
	var p signal.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad join payload")
		return
	}
	room := domain.RoomID(p.RoomID)
	participant, _, ok := ctl.Registry.Get(uid)
	if !ok {
		return
	}

	// Snapshot before membership changes: the joiner initiates toward
	// everyone already present.
	existing := ctl.Registry.RoomMembers(room, uid)
	users := make([]signal.RoomUser, 0, len(existing))
	for _, m := range existing {
		users = append(users, signal.RoomUser{
			ID:     string(m.participant.ID),
			Name:   m.participant.DisplayName,
			Avatar: m.participant.AvatarRef,
		})
	}

	prev, left := ctl.Registry.SetRoom(uid, room)
	if left {
		// Single active room per client: joining elsewhere leaves first.
		ctl.broadcast(prev, uid, signal.UserLeft{Type: signal.TypeUserLeft, UserID: string(uid)})
	}

	log.Info().Str("module", "rendezvous").Str("user", string(uid)).Str("room", string(room)).Msg("join")
	ctl.sendJSON(conn, signal.RoomUsers{Type: signal.TypeRoomUsers, Users: users})
	ctl.broadcast(room, uid, signal.UserJoined{
		Type:   signal.TypeUserJoined,
		UserID: string(uid),
		Name:   participant.DisplayName,
		Avatar: participant.AvatarRef,
	})
}

func (ctl *Controller) handleLeave(uid domain.ParticipantID) {
	if uid == "" {
		return
	}
	room, ok := ctl.Registry.ClearRoom(uid)
	if !ok {
		return
	}
	log.Info().Str("module", "rendezvous").Str("user", string(uid)).Str("room", string(room)).Msg("leave")
	ctl.broadcast(room, uid, signal.UserLeft{Type: signal.TypeUserLeft, UserID: string(uid)})
}

// relayExchange forwards an offer or answer SDP to its target, stamping the
// sender. A missing target drops the payload.
func (ctl *Controller) relayExchange(uid domain.ParticipantID, typ string, data []byte) {
	if uid == "" {
		return
	}
	var p signal.SessionExchange
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Str("type", typ).Msg("bad exchange payload")
		return
	}
	ctl.sendTo(domain.ParticipantID(p.Target), signal.SessionExchange{
		Type:   typ,
		Sender: string(uid),
		SDP:    p.SDP,
	})
}

func (ctl *Controller) relayCandidate(uid domain.ParticipantID, data []byte) {
	if uid == "" {
		return
	}
	var p signal.IceCandidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad candidate payload")
		return
	}
	ctl.sendTo(domain.ParticipantID(p.Target), signal.IceCandidate{
		Type:      signal.TypeIceCandidate,
		Sender:    string(uid),
		Candidate: p.Candidate,
	})
}

// handleChat stamps id and timestamp and fans out to the whole room,
// sender included, so every log converges on the same entry.
func (ctl *Controller) handleChat(uid domain.ParticipantID, data []byte) {
	var p signal.ChatSend
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad chat payload")
		return
	}
	participant, room, ok := ctl.Registry.Get(uid)
	if !ok || room == "" {
		return
	}
	msg := signal.ChatBroadcast{
		Type:      signal.TypeChatMessage,
		MessageID: uuid.NewString(),
		UserID:    string(uid),
		Name:      participant.DisplayName,
		Avatar:    participant.AvatarRef,
		Text:      p.Text,
		Timestamp: time.Now().UnixMilli(),
		ChannelID: string(room),
	}
	ctl.broadcast(room, "", msg)
}

func (ctl *Controller) handleEdit(uid domain.ParticipantID, data []byte) {
	var p signal.EditMessage
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad edit payload")
		return
	}
	_, room, ok := ctl.Registry.Get(uid)
	if !ok || room == "" {
		return
	}
	ctl.broadcast(room, "", signal.MessageEdited{
		Type:      signal.TypeMessageEdited,
		MessageID: p.MessageID,
		NewText:   p.NewText,
	})
}

func (ctl *Controller) handleDelete(uid domain.ParticipantID, data []byte) {
	var p signal.DeleteMessage
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad delete payload")
		return
	}
	_, room, ok := ctl.Registry.Get(uid)
	if !ok || room == "" {
		return
	}
	ctl.broadcast(room, "", signal.MessageDeleted{
		Type:      signal.TypeMessageDeleted,
		MessageID: p.MessageID,
	})
}

func (ctl *Controller) handleRead(uid domain.ParticipantID, data []byte) {
	var p signal.MessageRead
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad read payload")
		return
	}
	_, room, ok := ctl.Registry.Get(uid)
	if !ok || room == "" {
		return
	}
	ctl.broadcast(room, uid, signal.MessageRead{
		Type:      signal.TypeMessageRead,
		ChannelID: p.ChannelID,
		UserID:    string(uid),
		Timestamp: p.Timestamp,
	})
}

func (ctl *Controller) sendTo(id domain.ParticipantID, v any) {
	conn, ok := ctl.Registry.Conn(id)
	if !ok {
		log.Debug().Str("module", "rendezvous").Str("target", string(id)).Msg("relay target gone")
		return
	}
	ctl.sendRaw(conn, v)
}

// broadcast fans v out to a room; except skips one participant ("" for none).
func (ctl *Controller) broadcast(room domain.RoomID, except domain.ParticipantID, v any) {
	for _, m := range ctl.Registry.RoomMembers(room, except) {
		ctl.sendRaw(m.conn, v)
	}
}

func (ctl *Controller) sendJSON(conn *wsConn, v any) {
	ctl.sendRaw(conn, v)
}

func (ctl *Controller) sendRaw(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "rendezvous").Msg("send dropped")
	}
}
