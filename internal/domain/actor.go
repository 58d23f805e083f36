package domain

// ActorKind enumerates the resolution states of the current browsing session.
type ActorKind int

const (
	// ActorUnknown is the initial state before resolution completes, and the
	// de-resolved state after sign-out.
	ActorUnknown ActorKind = iota

	// ActorNoSession means resolution finished with no remote session and no
	// guest flag. Reads are allowed, but guest-gated features stay locked
	// until the user explicitly enters guest mode or signs in. This is a
	// distinct policy state from ActorGuest even though most screens treat
	// the two alike.
	ActorNoSession

	// ActorGuest is the locally persisted anonymous browsing mode.
	ActorGuest

	// ActorAuthenticated is a signed-in account.
	ActorAuthenticated
)

func (k ActorKind) String() string {
	switch k {
	case ActorNoSession:
		return "no-session"
	case ActorGuest:
		return "guest"
	case ActorAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Actor is the resolved identity of the current browsing session. Exactly one
// kind holds at any instant; UserID is set only when the kind is
// ActorAuthenticated.
type Actor struct {
	Kind          ActorKind
	UserID        string
	EmailVerified bool
}

// Authenticated reports whether the actor is a signed-in account.
func (a Actor) Authenticated() bool {
	return a.Kind == ActorAuthenticated
}
