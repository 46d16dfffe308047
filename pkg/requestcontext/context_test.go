package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"dataplane/pkg/domain"
)

func TestSurfaceOf(t *testing.T) {
	ctx := context.Background()
	keyActor := domain.APIKeyActor(domain.NewAPIKeyID())
	userActor := domain.UserActor(domain.UserID(uuid.New()))

	assert.Equal(t, SurfaceAPI, SurfaceOf(ctx, keyActor))
	assert.Equal(t, SurfaceWeb, SurfaceOf(ctx, userActor))
	assert.Equal(t, SurfaceAPI, SurfaceOf(WithSurface(ctx, SurfaceAPI), userActor))
}

func TestNowPrefersInjectedTime(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestActorRoundTrip(t *testing.T) {
	a := domain.UserActor(domain.UserID(uuid.New()))
	assert.Equal(t, a, Actor(WithActor(context.Background(), a)))
	assert.True(t, Actor(context.Background()).IsZero())
}
