package memory_test

import (
	"testing"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/memory"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) credstore.Store {
		return memory.New()
	})
}
