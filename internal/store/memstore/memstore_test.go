package memstore_test

import (
	"testing"

	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/store/memstore"
	"github.com/MrWong99/cadence/internal/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return memstore.New() })
}
