package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/chat"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 64 << 10
)

// inboundFrame is what clients send over the socket.
type inboundFrame struct {
	Type    string              `json:"type"`
	Message *models.ChatMessage `json:"message"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// handleChatWS upgrades the connection and subscribes it to one room. Browsers
// cannot set headers on the handshake, so a token may also arrive as ?token=.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	kind := models.ChatKind(chi.URLParam(r, "kind"))
	subject := chi.URLParam(r, "subjectId")
	if !kind.Valid() || subject == "" {
		writeError(w, r, chat.ErrInvalid)
		return
	}
	id, _ := auth.FromContext(r.Context())
	if token := r.URL.Query().Get("token"); token != "" && id == nil {
		verified, err := s.deps.Tokens.Verify(token)
		if err != nil {
			writeError(w, r, auth.ErrInvalidToken)
			return
		}
		id = verified
		r = r.WithContext(auth.WithIdentity(r.Context(), id))
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		loggerFrom(r).Debug("websocket upgrade failed", "error", err)
		return
	}

	key := chat.RoomKey{Kind: kind, SubjectID: subject}
	hub := s.deps.Chat.Hub()
	sub := hub.Join(key)
	log := loggerFrom(r).With("room", key.String())
	log.Info("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(conn, sub)
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			break
		}
		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			hub.Direct(sub, chat.Event{Type: chat.EventError, Error: "malformed frame"})
			continue
		}
		if in.Type != chat.EventMessage || in.Message == nil {
			hub.Direct(sub, chat.Event{Type: chat.EventError, Error: "expected a chat_message frame"})
			continue
		}
		msg := *in.Message
		if id != nil && msg.AuthorID == "" {
			msg.AuthorID = id.Subject
		}
		if _, err := s.deps.Chat.Post(r.Context(), kind, subject, msg, chat.SurfaceWS); err != nil {
			status, _ := classify(err)
			hub.Direct(sub, chat.Event{Type: chat.EventError, Error: publicMessage(err, status)})
		}
	}

	hub.Leave(sub)
	<-done
	log.Info("websocket disconnected")
}

// writePump is the only writer on conn. It exits when the subscription is
// closed, either by the reader on disconnect or by the hub evicting a
// subscriber that fell behind, and closes the connection on the way out.
func (s *Server) writePump(conn *websocket.Conn, sub *chat.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug("websocket write failed", "room", sub.Room().String(), "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
