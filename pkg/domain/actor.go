package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	dErrors "dataplane/pkg/domain-errors"
)

// ActorKind names which identity performed an action.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorAPIKey ActorKind = "api_key"
)

// Actor is either a signed-in user or an API key, never both. The zero value
// means "no actor" and is rejected on every mutating call.
//
// Construct with UserActor or APIKeyActor; the fields are unexported so the
// "both set" state cannot be expressed.
type Actor struct {
	kind ActorKind
	id   uuid.UUID
}

func UserActor(id UserID) Actor {
	return Actor{kind: ActorUser, id: uuid.UUID(id)}
}

func APIKeyActor(id APIKeyID) Actor {
	return Actor{kind: ActorAPIKey, id: uuid.UUID(id)}
}

func (a Actor) Kind() ActorKind { return a.kind }

// IsZero reports whether no identity is set.
func (a Actor) IsZero() bool { return a.kind == "" || a.id == uuid.Nil }

// UserID returns the user identity when the actor is a user.
func (a Actor) UserID() (UserID, bool) {
	if a.kind != ActorUser {
		return UserID{}, false
	}
	return UserID(a.id), true
}

// APIKeyID returns the key identity when the actor is an API key.
func (a Actor) APIKeyID() (APIKeyID, bool) {
	if a.kind != ActorAPIKey {
		return APIKeyID{}, false
	}
	return APIKeyID(a.id), true
}

// ID returns the raw identity string regardless of kind.
func (a Actor) ID() string {
	if a.IsZero() {
		return ""
	}
	return a.id.String()
}

func (a Actor) String() string {
	if a.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s:%s", a.kind, a.id)
}

// Validate rejects the zero actor.
func (a Actor) Validate() error {
	if a.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	return nil
}

// ParseActor rebuilds an actor from its persisted kind and id.
func ParseActor(kind, id string) (Actor, error) {
	switch ActorKind(kind) {
	case ActorUser:
		uid, err := ParseUserID(id)
		if err != nil {
			return Actor{}, err
		}
		return UserActor(uid), nil
	case ActorAPIKey:
		kid, err := ParseAPIKeyID(id)
		if err != nil {
			return Actor{}, err
		}
		return APIKeyActor(kid), nil
	case "":
		return Actor{}, nil
	default:
		return Actor{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown actor kind %q", kind)
	}
}

type actorJSON struct {
	UserID   string `json:"user_id,omitempty"`
	APIKeyID string `json:"api_key_id,omitempty"`
}

// MarshalJSON writes exactly one of user_id / api_key_id.
func (a Actor) MarshalJSON() ([]byte, error) {
	var out actorJSON
	switch a.kind {
	case ActorUser:
		out.UserID = a.id.String()
	case ActorAPIKey:
		out.APIKeyID = a.id.String()
	}
	return json.Marshal(out)
}

func (a *Actor) UnmarshalJSON(b []byte) error {
	var in actorJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in.UserID != "" && in.APIKeyID != "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor cannot be both user and api key")
	}
	var err error
	switch {
	case in.UserID != "":
		*a, err = ParseActor(string(ActorUser), in.UserID)
	case in.APIKeyID != "":
		*a, err = ParseActor(string(ActorAPIKey), in.APIKeyID)
	default:
		*a = Actor{}
	}
	return err
}
