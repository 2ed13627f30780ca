package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/config"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/mail"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
	"github.com/weintegritywork/weintegrity-ppm/internal/store/memstore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig() *config.Config {
	return &config.Config{
		StorageBackend: config.BackendMemory,
		JWTSecret:      "app-test-secret",
		Debug:          true,
		OTPTTL:         10 * time.Minute,
	}
}

func TestIndexesCoverEveryResource(t *testing.T) {
	idx := Indexes(crud.Resources(auth.DefaultArgon))
	unique := map[string]bool{}
	for _, i := range idx {
		if i.Unique && i.Field == "id" {
			unique[i.Collection] = true
		}
	}
	for _, c := range []string{models.Users, models.Teams, models.Projects, models.Stories, models.Epics, models.Sprints, models.Notifications} {
		assert.True(t, unique[c], c)
	}
	assert.Contains(t, idx, store.Index{Collection: models.StoryChats, Field: "storyId", Unique: true})
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	b, err := OpenBackend(ctx, testConfig(), discard)
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())

	cfg := testConfig()
	cfg.StorageBackend = config.BackendMongo
	cfg.MongoURI = "mongodb://127.0.0.1:1"
	cfg.MongoConnectTimeout = 300 * time.Millisecond
	_, err = OpenBackend(ctx, cfg, discard)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	cfg.MemoryFallback = true
	b, err = OpenBackend(ctx, cfg, discard)
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())
}

func TestSeedThenLogin(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), discard,
		WithBackend(memstore.New()),
		WithArgon(auth.ArgonParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}),
		WithMailer(mail.Noop{}),
	)
	require.NoError(t, err)
	h := a.Server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dev/seed/", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"detail":"Seeded"`)

	users, err := a.Backend.Collection(models.Users).Find(ctx, store.Filter{}, store.FindOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, users)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"email":"admin@example.com","password":"admin123"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login/", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"access":`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/story-chats/story-1/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"storyId":"story-1"`))
}
