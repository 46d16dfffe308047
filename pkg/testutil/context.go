package testutil

import (
	"net/http"

	"dataplane/pkg/domain"
	"dataplane/pkg/requestcontext"
)

// WithActor attaches an authenticated actor the way the auth middleware does,
// including the surface the actor kind implies.
func WithActor(req *http.Request, actor domain.Actor) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), actor)
	ctx = requestcontext.WithSurface(ctx, requestcontext.SurfaceOf(ctx, actor))
	return req.WithContext(ctx)
}
