package memory

import (
	"testing"

	"workforce-queue/internal/store"
	"workforce-queue/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
