package mongostore

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/weintegritywork/weintegrity-ppm/internal/store"
	"github.com/weintegritywork/weintegrity-ppm/internal/store/storetest"
)

// startMongo runs a throwaway MongoDB container and returns its URI.
func startMongo(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)
	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

func TestBackend(t *testing.T) {
	uri := startMongo(t)
	var n atomic.Int64
	storetest.Run(t, func(t *testing.T) store.Backend {
		ctx := context.Background()
		b, err := Connect(ctx, uri, fmt.Sprintf("tracker_test_%d", n.Add(1)), 10*time.Second)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = b.Drop(ctx)
			_ = b.Close(ctx)
		})
		return b
	})
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), "mongodb://127.0.0.1:1", "x", 300*time.Millisecond)
	require.ErrorIs(t, err, store.ErrUnavailable)
}
