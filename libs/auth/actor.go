package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/clinicore/scheduling/libs/httpx"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role string
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok && a.ID != ""
}

// Gateway headers set by an upstream API gateway after it verified the token.
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

type Options struct {
	Secret              string
	TrustGatewayHeaders bool
}

// Middleware resolves the actor from a bearer token, or from gateway headers
// when trusted, and rejects anonymous requests with 401.
func Middleware(opts Options) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := resolve(r, opts)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="scheduling"`)
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func resolve(r *http.Request, opts Options) (Actor, bool) {
	if authz := r.Header.Get("Authorization"); authz != "" && opts.Secret != "" {
		token, found := strings.CutPrefix(authz, "Bearer ")
		if !found {
			return Actor{}, false
		}
		claims, err := ParseAndVerifyHS256(token, opts.Secret)
		if err != nil {
			return Actor{}, false
		}
		return Actor{ID: claims.Subject, Role: claims.Role}, true
	}
	if opts.TrustGatewayHeaders {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id != "" {
			return Actor{ID: id, Role: strings.TrimSpace(r.Header.Get(HeaderRole))}, true
		}
	}
	return Actor{}, false
}
