package memstore

import (
	"testing"

	"github.com/weintegritywork/weintegrity-ppm/internal/store"
	"github.com/weintegritywork/weintegrity-ppm/internal/store/storetest"
)

func TestBackend(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Backend { return New() })
}
