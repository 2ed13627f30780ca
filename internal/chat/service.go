// Package chat implements per-story and per-project chat rooms: persisted
// message sequences with live fan-out to subscribed connections.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weintegritywork/weintegrity-ppm/internal/metrics"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

var (
	ErrInvalid  = errors.New("chat: invalid request")
	ErrNotFound = errors.New("chat: message not found")
)

const (
	EventMessage = "chat_message"
	EventDeleted = "chat_message_deleted"
	EventError   = "error"
)

// Event is the wire shape pushed to subscribers.
type Event struct {
	Type      string              `json:"type"`
	Message   *models.ChatMessage `json:"message,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Surface tells Post which transport delivered the message.
type Surface string

const (
	SurfaceREST Surface = "rest"
	SurfaceWS   Surface = "ws"
)

type Notifier interface {
	Notify(ctx context.Context, kind models.ChatKind, subjectID string, msg models.ChatMessage) ([]models.Notification, error)
}

type Auditor interface {
	Record(ctx context.Context, action, target string)
}

// Room is the persisted state of one room. It serialises with both the
// generic subjectId and the kind specific key (storyId or projectId).
type Room struct {
	Kind      models.ChatKind
	SubjectID string
	Messages  []models.ChatMessage
}

func (r Room) MarshalJSON() ([]byte, error) {
	msgs := r.Messages
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return json.Marshal(map[string]any{
		"subjectId":         r.SubjectID,
		r.Kind.SubjectKey(): r.SubjectID,
		"messages":          msgs,
	})
}

type Service struct {
	backend  store.Backend
	hub      *Hub
	notifier Notifier
	audit    Auditor
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(backend store.Backend, hub *Hub, notifier Notifier, audit Auditor, logger *slog.Logger) *Service {
	return &Service{
		backend:  backend,
		hub:      hub,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Hub() *Hub { return s.hub }

// Get returns the room, or an empty room when nothing was posted yet.
func (s *Service) Get(ctx context.Context, kind models.ChatKind, subjectID string) (Room, error) {
	if err := validate(kind, subjectID); err != nil {
		return Room{}, err
	}
	room := Room{Kind: kind, SubjectID: subjectID, Messages: []models.ChatMessage{}}
	doc, err := s.rooms(kind).FindOne(ctx, s.filter(kind, subjectID))
	if errors.Is(err, store.ErrNotFound) {
		return room, nil
	}
	if err != nil {
		return Room{}, fmt.Errorf("chat: load %s: %w", RoomKey{kind, subjectID}, err)
	}
	stored, err := models.Decode[struct {
		Messages []models.ChatMessage `json:"messages"`
	}](doc)
	if err != nil {
		return Room{}, err
	}
	if stored.Messages != nil {
		room.Messages = stored.Messages
	}
	return room, nil
}

// Post persists msg and, only once that succeeded, broadcasts it to every
// subscriber of the room, the sender included. Messages arriving over REST
// also produce notifications; their failure is logged and never returned.
func (s *Service) Post(ctx context.Context, kind models.ChatKind, subjectID string, msg models.ChatMessage, via Surface) (models.ChatMessage, error) {
	if err := validate(kind, subjectID); err != nil {
		return models.ChatMessage{}, err
	}
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = s.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	doc, err := models.Encode(msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	key := RoomKey{Kind: kind, SubjectID: subjectID}
	if err := s.rooms(kind).Push(ctx, s.filter(kind, subjectID), "messages", map[string]any(doc)); err != nil {
		metrics.ChatPersistFailures.WithLabelValues(string(kind)).Inc()
		s.logger.Error("chat message not persisted; broadcast skipped", "room", key.String(), "message", msg.ID, "error", err)
		if !errors.Is(err, store.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return models.ChatMessage{}, fmt.Errorf("chat: persist %s: %w", key, err)
	}
	metrics.ChatMessages.WithLabelValues(string(kind), string(via)).Inc()
	if s.audit != nil {
		s.audit.Record(ctx, "chat."+string(kind)+".post", subjectID+"/"+msg.ID)
	}

	out := msg
	s.hub.Broadcast(key, Event{Type: EventMessage, Message: &out})

	if via == SurfaceREST && s.notifier != nil {
		sent, err := s.notifier.Notify(ctx, kind, subjectID, msg)
		if err != nil {
			s.logger.Warn("chat notifications skipped", "room", key.String(), "message", msg.ID, "error", err)
		} else {
			s.logger.Debug("chat notifications written", "room", key.String(), "count", len(sent))
		}
	}
	return msg, nil
}

// Delete removes the first message with the given id from the room.
func (s *Service) Delete(ctx context.Context, kind models.ChatKind, subjectID, messageID string) error {
	if err := validate(kind, subjectID); err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("%w: messageId required", ErrInvalid)
	}
	removed, err := s.rooms(kind).PullFirst(ctx, s.filter(kind, subjectID), "messages", "id", messageID)
	if err != nil {
		return fmt.Errorf("chat: delete from %s: %w", RoomKey{kind, subjectID}, err)
	}
	if !removed {
		return ErrNotFound
	}
	if s.audit != nil {
		s.audit.Record(ctx, "chat."+string(kind)+".delete", subjectID+"/"+messageID)
	}
	s.hub.Broadcast(RoomKey{Kind: kind, SubjectID: subjectID}, Event{Type: EventDeleted, MessageID: messageID})
	return nil
}

func (s *Service) rooms(kind models.ChatKind) store.Collection {
	return s.backend.Collection(kind.Collection())
}

func (s *Service) filter(kind models.ChatKind, subjectID string) store.Filter {
	return store.Filter{kind.SubjectKey(): subjectID}
}

// Indexes lists the unique subject keys that keep one document per room.
func Indexes() []store.Index {
	return []store.Index{
		{Collection: models.StoryChats, Field: models.ChatStory.SubjectKey(), Unique: true},
		{Collection: models.ProjectChats, Field: models.ChatProject.SubjectKey(), Unique: true},
	}
}

func validate(kind models.ChatKind, subjectID string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown chat kind %q", ErrInvalid, kind)
	}
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("%w: subject id required", ErrInvalid)
	}
	return nil
}
