package keystore

// GuardState tracks a Guard through Unarmed -> Armed -> {Disarmed, Fired}
type GuardState int

const (
	GuardUnarmed GuardState = iota
	GuardArmed
	GuardDisarmed
	GuardFired
)

func (g GuardState) String() string {
	switch g {
	case GuardUnarmed:
		return "unarmed"
	case GuardArmed:
		return "armed"
	case GuardDisarmed:
		return "disarmed"
	case GuardFired:
		return "fired"
	}
	return "unknown"
}

// Guard removes one credential's scratch copy when its scope ends.
type Guard struct {
	store  *Store
	name   string
	state  GuardState
	closed bool
}

// Guard returns an unarmed guard for name. Defer Close right away and
// Arm once the scratch copy exists.
func (s *Store) Guard(name string) *Guard {
	return &Guard{store: s, name: name}
}

// Arm returns an armed guard for name, for callers that decrypted already.
func (s *Store) Arm(name string) *Guard {
	g := s.Guard(name)
	g.Arm()
	return g
}

// Name returns the credential the guard owns
func (g *Guard) Name() string {
	return g.name
}

// State returns the guard's current state
func (g *Guard) State() GuardState {
	return g.state
}

// Arm starts protecting the scratch copy
func (g *Guard) Arm() {
	if g.state == GuardUnarmed && !g.closed {
		g.state = GuardArmed
	}
}

// Disarm records that the credential was re-encrypted. Close still
// sweeps any scratch copy left behind.
func (g *Guard) Disarm() {
	if g.state == GuardArmed {
		g.state = GuardDisarmed
	}
}

// Close ends the protected scope. Unless the guard was never armed it
// removes the scratch copy if present; an armed guard becomes Fired.
// Removal errors are logged and swallowed. Close is idempotent.
func (g *Guard) Close() {
	if g == nil || g.closed || g.state == GuardUnarmed {
		return
	}
	g.closed = true

	if g.state == GuardArmed {
		g.state = GuardFired
	}

	log := g.store.log.WithCredential(g.name)
	if err := g.store.RemovePlaintext(g.name); err != nil {
		log.Debug().Err(err).Str("guard", g.state.String()).Msg("could not remove scratch copy")
		return
	}
	log.Debug().Str("guard", g.state.String()).Msg("scratch copy cleaned up")
}
