// Package notify derives notification recipients for chat messages and
// writes one notification per recipient.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/weintegritywork/weintegrity-ppm/internal/ids"
	"github.com/weintegritywork/weintegrity-ppm/internal/metrics"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

const (
	previewRunes = 100
	nameCacheTTL = 5 * time.Minute
	nameCacheMax = 1024
)

// ErrUnresolved means the subject, the author or a membership record could
// not be loaded. No notification is written in that case.
var ErrUnresolved = errors.New("notify: unresolved reference")

type Generator struct {
	users         store.Collection
	teams         store.Collection
	projects      store.Collection
	stories       store.Collection
	notifications store.Collection

	names  *expirable.LRU[string, string]
	logger *slog.Logger
	now    func() time.Time
}

func New(b store.Backend, logger *slog.Logger) *Generator {
	return &Generator{
		users:         b.Collection(models.Users),
		teams:         b.Collection(models.Teams),
		projects:      b.Collection(models.Projects),
		stories:       b.Collection(models.Stories),
		notifications: b.Collection(models.Notifications),
		names:         expirable.NewLRU[string, string](nameCacheMax, nil, nameCacheTTL),
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Notify writes the notifications for msg posted in the given room and
// returns what was written.
func (g *Generator) Notify(ctx context.Context, kind models.ChatKind, subjectID string, msg models.ChatMessage) ([]models.Notification, error) {
	if msg.AuthorID == "" {
		return nil, g.fail(kind, fmt.Errorf("%w: message has no author", ErrUnresolved))
	}
	var (
		recipients []string
		text, link string
		err        error
	)
	sender, err := g.displayName(ctx, msg.AuthorID)
	if err != nil {
		return nil, g.fail(kind, err)
	}
	switch kind {
	case models.ChatStory:
		recipients, text, link, err = g.story(ctx, subjectID, sender, msg)
	case models.ChatProject:
		recipients, text, link, err = g.project(ctx, subjectID, sender, msg)
	default:
		err = fmt.Errorf("%w: chat kind %q", ErrUnresolved, kind)
	}
	if err != nil {
		return nil, g.fail(kind, err)
	}

	now := g.now().UTC()
	stamp := now.Format("2006-01-02T15:04:05.000Z")
	out := make([]models.Notification, 0, len(recipients))
	for _, uid := range without(recipients, msg.AuthorID) {
		n := models.Notification{
			ID:        fmt.Sprintf("notif-%s-%s-%d-%s", subjectID, uid, now.UnixMilli(), ids.NewAt(now)),
			UserID:    uid,
			Message:   text,
			Link:      link,
			IsRead:    false,
			Timestamp: stamp,
		}
		doc, err := models.Encode(n)
		if err == nil {
			err = g.notifications.Insert(ctx, doc)
		}
		if err != nil {
			g.logger.Warn("notification write failed", "kind", kind, "subject", subjectID, "recipient", uid, "error", err)
			continue
		}
		out = append(out, n)
	}
	metrics.NotificationsCreated.WithLabelValues(string(kind)).Add(float64(len(out)))
	return out, nil
}

func (g *Generator) story(ctx context.Context, storyID, sender string, msg models.ChatMessage) ([]string, string, string, error) {
	story, err := load[models.Story](ctx, g.stories, storyID)
	if err != nil {
		return nil, "", "", fmt.Errorf("story %q: %w", storyID, err)
	}
	var recipients []string
	if story.AssignedTeamID != "" {
		team, err := load[models.Team](ctx, g.teams, story.AssignedTeamID)
		if err != nil {
			return nil, "", "", fmt.Errorf("team %q: %w", story.AssignedTeamID, err)
		}
		recipients = append(recipients, team.MemberIDs...)
		recipients = append(recipients, team.LeadID)
	}
	recipients = append(recipients, story.AssignedToID, story.CreatedByID, story.UpdatedByID)

	number := story.Number
	if number == "" {
		number = storyID
	}
	text := fmt.Sprintf("%s sent a message on story %s: %s", sender, number, Preview(msg.Text))
	return recipients, text, "/stories/" + storyID, nil
}

func (g *Generator) project(ctx context.Context, projectID, sender string, msg models.ChatMessage) ([]string, string, string, error) {
	project, err := load[models.Project](ctx, g.projects, projectID)
	if err != nil {
		return nil, "", "", fmt.Errorf("project %q: %w", projectID, err)
	}
	name := project.Name
	if name == "" {
		name = "project"
	}
	text := fmt.Sprintf("%s sent a message in %s: %s", sender, name, Preview(msg.Text))
	return project.MemberIDs, text, "/projects/" + projectID, nil
}

func (g *Generator) displayName(ctx context.Context, userID string) (string, error) {
	if name, ok := g.names.Get(userID); ok {
		return name, nil
	}
	doc, err := g.users.FindOne(ctx, store.Filter{"id": userID})
	if err != nil {
		return "", fmt.Errorf("author %q: %w", userID, err)
	}
	name := models.UserFromDocument(doc).DisplayName()
	if name == "" {
		name = "Someone"
	}
	g.names.Add(userID, name)
	return name, nil
}

func (g *Generator) fail(kind models.ChatKind, err error) error {
	metrics.NotificationFailures.WithLabelValues(string(kind)).Inc()
	if !errors.Is(err, ErrUnresolved) {
		err = fmt.Errorf("%w: %v", ErrUnresolved, err)
	}
	return err
}

func load[T any](ctx context.Context, c store.Collection, id string) (T, error) {
	var zero T
	doc, err := c.FindOne(ctx, store.Filter{"id": id})
	if err != nil {
		return zero, err
	}
	return models.Decode[T](doc)
}

// without deduplicates ids in first-seen order and drops empty ids and the
// excluded author.
func without(list []string, author string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, id := range list {
		if id == "" || id == author {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Preview returns the first 100 characters of text.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	r := []rune(text)
	return string(r[:previewRunes])
}
