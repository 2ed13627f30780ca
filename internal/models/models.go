// Package models holds the typed records the services read and write, and
// the collection names they live in.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

const (
	Users          = "users"
	Teams          = "teams"
	Projects       = "projects"
	Stories        = "stories"
	Epics          = "epics"
	Sprints        = "sprints"
	Notifications  = "notifications"
	StoryChats     = "story_chats"
	ProjectChats   = "project_chats"
	PasswordResets = "password_resets"
)

// ChatKind names a chat surface: one room per story or per project.
type ChatKind string

const (
	ChatStory   ChatKind = "story"
	ChatProject ChatKind = "project"
)

// Collection returns the collection holding rooms of this kind.
func (k ChatKind) Collection() string {
	if k == ChatProject {
		return ProjectChats
	}
	return StoryChats
}

// SubjectKey is the room document field naming the story or project.
func (k ChatKind) SubjectKey() string {
	if k == ChatProject {
		return "projectId"
	}
	return "storyId"
}

func (k ChatKind) Valid() bool { return k == ChatStory || k == ChatProject }

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type User struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employeeId"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	Role          string `json:"role"`
	Department    string `json:"department,omitempty"`
	JobTitle      string `json:"jobTitle,omitempty"`
	DateOfJoining string `json:"dateOfJoining,omitempty"`
	Password      string `json:"password,omitempty"`
	Status        string `json:"status"`
}

// DisplayName is "First Last", trimmed.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u User) Inactive() bool { return u.Status == StatusInactive }

// UserFromDocument reads a stored user without a strict decode. Fields of an
// unexpected type read as their text form; a non-string password reads as
// empty and never matches.
func UserFromDocument(d store.Document) User {
	return User{
		ID:            text(d["id"]),
		EmployeeID:    text(d["employeeId"]),
		FirstName:     text(d["firstName"]),
		LastName:      text(d["lastName"]),
		Email:         text(d["email"]),
		Phone:         text(d["phone"]),
		Role:          text(d["role"]),
		Department:    text(d["department"]),
		JobTitle:      text(d["jobTitle"]),
		DateOfJoining: text(d["dateOfJoining"]),
		Password:      d.StringField("password"),
		Status:        text(d["status"]),
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

type Team struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	LeadID    string   `json:"leadId,omitempty"`
	MemberIDs []string `json:"memberIds"`
	ProjectID string   `json:"projectId,omitempty"`
}

type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	OwnerID   string   `json:"ownerId,omitempty"`
	MemberIDs []string `json:"memberIds"`
	Status    string   `json:"status,omitempty"`
}

type Story struct {
	ID               string `json:"id"`
	Number           string `json:"number"`
	ShortDescription string `json:"shortDescription,omitempty"`
	ProjectID        string `json:"projectId,omitempty"`
	AssignedTeamID   string `json:"assignedTeamId,omitempty"`
	AssignedToID     string `json:"assignedToId,omitempty"`
	CreatedByID      string `json:"createdById,omitempty"`
	UpdatedByID      string `json:"updatedById,omitempty"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Link      string `json:"link"`
	IsRead    bool   `json:"isRead"`
	Timestamp string `json:"timestamp"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ChatMessage struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"authorId"`
	Timestamp  string      `json:"timestamp"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// ChatRoom is the persisted message sequence of one story or project.
type ChatRoom struct {
	SubjectID string        `json:"subjectId"`
	Messages  []ChatMessage `json:"messages"`
}

// Decode converts a stored document into a typed record. Unknown fields are
// ignored.
func Decode[T any](d store.Document) (T, error) {
	var out T
	raw, err := json.Marshal(d)
	if err != nil {
		return out, fmt.Errorf("models: encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("models: decode %T: %w", out, err)
	}
	return out, nil
}

// Encode converts a typed record into a storable document.
func Encode(v any) (store.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("models: encode %T: %w", v, err)
	}
	var d store.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("models: decode document: %w", err)
	}
	return d, nil
}
