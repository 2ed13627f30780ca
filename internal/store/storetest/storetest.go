// Package storetest holds the behaviour every store.Backend must share. Each
// backend's tests call Run with a constructor returning an empty backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Run("InsertFindUpdateDelete", func(t *testing.T) { testCRUD(t, open(t)) })
	t.Run("UniqueIndex", func(t *testing.T) { testUnique(t, open(t)) })
	t.Run("SearchAndPaging", func(t *testing.T) { testSearch(t, open(t)) })
	t.Run("PushCreatesOnce", func(t *testing.T) { testPush(t, open(t)) })
	t.Run("PullFirst", func(t *testing.T) { testPullFirst(t, open(t)) })
	t.Run("DeleteMany", func(t *testing.T) { testDeleteMany(t, open(t)) })
}

func testCRUD(t *testing.T, b store.Backend) {
	ctx := context.Background()
	c := b.Collection("things")

	_, err := c.FindOne(ctx, store.Filter{"id": "a"})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.Insert(ctx, store.Document{"id": "a", "name": "Alpha", "tags": []any{"x", "y"}}))
	doc, err := c.FindOne(ctx, store.Filter{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", doc["name"])
	assert.Equal(t, []string{"x", "y"}, doc.StringSlice("tags"))
	assert.NotContains(t, doc, "_id")

	// returned documents are copies
	doc["name"] = "mutated"
	again, err := c.FindOne(ctx, store.Filter{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", again["name"])

	require.NoError(t, c.Update(ctx, store.Filter{"id": "a"}, store.Document{"name": "Beta"}))
	doc, err = c.FindOne(ctx, store.Filter{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "Beta", doc["name"])
	assert.Equal(t, []string{"x", "y"}, doc.StringSlice("tags"))

	assert.ErrorIs(t, c.Update(ctx, store.Filter{"id": "zz"}, store.Document{"name": "x"}), store.ErrNotFound)
	require.NoError(t, c.Delete(ctx, store.Filter{"id": "a"}))
	assert.ErrorIs(t, c.Delete(ctx, store.Filter{"id": "a"}), store.ErrNotFound)
}

func testUnique(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.EnsureIndexes(ctx, []store.Index{
		{Collection: "people", Field: "id", Unique: true},
		{Collection: "people", Field: "email", Unique: true},
	}))
	c := b.Collection("people")
	require.NoError(t, c.Insert(ctx, store.Document{"id": "1", "email": "a@x.io"}))
	require.NoError(t, c.Insert(ctx, store.Document{"id": "2"}))
	require.NoError(t, c.Insert(ctx, store.Document{"id": "3"}), "missing fields never collide")

	err := c.Insert(ctx, store.Document{"id": "1", "email": "other@x.io"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	err = c.Update(ctx, store.Filter{"id": "2"}, store.Document{"email": "a@x.io"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	require.NoError(t, c.Update(ctx, store.Filter{"id": "1"}, store.Document{"email": "a@x.io"}), "own value is not a collision")
}

func testSearch(t *testing.T, b store.Backend) {
	ctx := context.Background()
	c := b.Collection("projects")
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("Project %02d", i)
		if i%3 == 0 {
			name = fmt.Sprintf("Apollo.%d", i)
		}
		require.NoError(t, c.Insert(ctx, store.Document{"id": fmt.Sprint(i), "name": name}))
	}

	all, err := c.Find(ctx, store.Filter{}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, all, 12)
	assert.Equal(t, "0", all[0]["id"], "insertion order")

	hits, err := c.Find(ctx, store.Filter{}, store.FindOptions{Search: "APOLLO.", SearchFields: []string{"name", "email"}})
	require.NoError(t, err)
	assert.Len(t, hits, 4)

	// regex metacharacters are literal
	hits, err = c.Find(ctx, store.Filter{}, store.FindOptions{Search: "o.1", SearchFields: []string{"name"}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	page, err := c.Find(ctx, store.Filter{}, store.FindOptions{Skip: 10, Limit: 5})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "10", page[0]["id"])
}

func testPush(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.EnsureIndexes(ctx, []store.Index{{Collection: "rooms", Field: "roomId", Unique: true}}))
	c := b.Collection("rooms")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- c.Push(ctx, store.Filter{"roomId": "r1"}, "messages", map[string]any{"id": fmt.Sprint("m", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	docs, err := c.Find(ctx, store.Filter{"roomId": "r1"}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	msgs, _ := docs[0]["messages"].([]any)
	assert.Len(t, msgs, 8)
}

func testPullFirst(t *testing.T, b store.Backend) {
	ctx := context.Background()
	c := b.Collection("rooms")
	f := store.Filter{"roomId": "r2"}
	for _, id := range []string{"a", "b", "b", "c"} {
		require.NoError(t, c.Push(ctx, f, "messages", map[string]any{"id": id}))
	}

	ok, err := c.PullFirst(ctx, f, "messages", "id", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.PullFirst(ctx, f, "messages", "id", "zz")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.PullFirst(ctx, store.Filter{"roomId": "none"}, "messages", "id", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	doc, err := c.FindOne(ctx, f)
	require.NoError(t, err)
	var ids []string
	for _, m := range doc["messages"].([]any) {
		ids = append(ids, m.(map[string]any)["id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func testDeleteMany(t *testing.T, b store.Backend) {
	ctx := context.Background()
	c := b.Collection("resets")
	for i, email := range []string{"a@x.io", "b@x.io", "a@x.io"} {
		require.NoError(t, c.Insert(ctx, store.Document{"otp": fmt.Sprint(i), "email": email}))
	}
	n, err := c.DeleteMany(ctx, store.Filter{"email": "a@x.io"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	left, err := c.Find(ctx, store.Filter{}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}
