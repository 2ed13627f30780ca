// Package seed clears and reloads the tracker collections from a JSON seed
// for development environments.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

//go:embed default.json
var defaultSeed []byte

// Data mirrors the seed file. Chat maps are keyed by story or project id.
type Data struct {
	Users         []store.Document                `json:"users"`
	Teams         []store.Document                `json:"teams"`
	Projects      []store.Document                `json:"projects"`
	Stories       []store.Document                `json:"stories"`
	Epics         []store.Document                `json:"epics"`
	Sprints       []store.Document                `json:"sprints"`
	Notifications []store.Document                `json:"notifications"`
	StoryChats    map[string][]models.ChatMessage `json:"storyChats"`
	ProjectChats  map[string][]models.ChatMessage `json:"projectChats"`
}

// Counts reports how many records Apply wrote per collection.
type Counts map[string]int

func Decode(r io.Reader) (*Data, error) {
	var d Data
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	normalize(&d)
	return &d, nil
}

// Load reads path, or the built-in development seed when path is empty.
func Load(path string) (*Data, error) {
	if path == "" {
		return Decode(bytes.NewReader(defaultSeed))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Apply empties every seeded collection and inserts d. Plain user passwords
// are hashed on the way in.
func Apply(ctx context.Context, b store.Backend, d *Data, params auth.ArgonParams) (Counts, error) {
	prepare := crud.PrepareUser(params)
	counts := Counts{}
	sets := []struct {
		coll string
		docs []store.Document
	}{
		{models.Users, d.Users},
		{models.Teams, d.Teams},
		{models.Projects, d.Projects},
		{models.Stories, d.Stories},
		{models.Epics, d.Epics},
		{models.Sprints, d.Sprints},
		{models.Notifications, d.Notifications},
	}
	for _, set := range sets {
		c := b.Collection(set.coll)
		if _, err := c.DeleteMany(ctx, store.Filter{}); err != nil {
			return counts, fmt.Errorf("seed: clear %s: %w", set.coll, err)
		}
		for _, doc := range set.docs {
			doc = store.Clone(doc)
			if set.coll == models.Users {
				if err := prepare(doc); err != nil {
					return counts, fmt.Errorf("seed: user %v: %w", doc["id"], err)
				}
			}
			if err := c.Insert(ctx, doc); err != nil {
				return counts, fmt.Errorf("seed: insert %s %v: %w", set.coll, doc["id"], err)
			}
			counts[set.coll]++
		}
	}

	chats := []struct {
		kind  models.ChatKind
		rooms map[string][]models.ChatMessage
	}{
		{models.ChatStory, d.StoryChats},
		{models.ChatProject, d.ProjectChats},
	}
	for _, ch := range chats {
		c := b.Collection(ch.kind.Collection())
		if _, err := c.DeleteMany(ctx, store.Filter{}); err != nil {
			return counts, fmt.Errorf("seed: clear %s: %w", ch.kind.Collection(), err)
		}
		for subject, msgs := range ch.rooms {
			list := make([]any, 0, len(msgs))
			for _, m := range msgs {
				enc, err := models.Encode(m)
				if err != nil {
					return counts, err
				}
				list = append(list, map[string]any(enc))
			}
			room := store.Document{ch.kind.SubjectKey(): subject, "messages": list}
			if err := c.Insert(ctx, room); err != nil {
				return counts, fmt.Errorf("seed: insert %s %s: %w", ch.kind.Collection(), subject, err)
			}
			counts[ch.kind.Collection()]++
		}
	}
	return counts, nil
}

// normalize turns json.Number values into float64 so seeded documents look
// like documents read back from storage.
func normalize(d *Data) {
	for _, docs := range [][]store.Document{d.Users, d.Teams, d.Projects, d.Stories, d.Epics, d.Sprints, d.Notifications} {
		for _, doc := range docs {
			for k, v := range doc {
				doc[k] = numbers(v)
			}
		}
	}
}

func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
		return t
	default:
		return v
	}
}
