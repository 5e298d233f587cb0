// Package actor carries the verified caller identity and request provenance
// through a request context. Identity is established by the auth gateway in
// front of this service; this package only transports it.
package actor

import "context"

type Actor struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Provenance struct {
	IP        string
	UserAgent string
}

type actorKey struct{}
type provenanceKey struct{}

// System is used for work not triggered by a person, such as the notifier.
var System = Actor{Type: "system", ID: "system"}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}

// MustFromContext falls back to System when no actor was attached.
func MustFromContext(ctx context.Context) Actor {
	if a, ok := FromContext(ctx); ok {
		return a
	}
	return System
}

func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

func ProvenanceFrom(ctx context.Context) Provenance {
	p, _ := ctx.Value(provenanceKey{}).(Provenance)
	return p
}
