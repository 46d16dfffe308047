package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataplane/pkg/domain"
)

func TestInMemoryCountsConcurrently(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	keyID := domain.NewAPIKeyID()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Increment(ctx, keyID, base.Add(time.Duration(i)*time.Second)))
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx, []domain.APIKeyID{keyID, domain.NewAPIKeyID()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(40), got[keyID].RequestCount)
	assert.Equal(t, base.Add(39*time.Second), *got[keyID].LastUsedAt)
}
