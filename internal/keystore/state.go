package keystore

// State is where a credential's bytes currently live on disk
type State int

const (
	Absent State = iota
	PlaintextOnly
	CiphertextOnly
	Both
)

func stateOf(plain, cipher bool) State {
	switch {
	case plain && cipher:
		return Both
	case plain:
		return PlaintextOnly
	case cipher:
		return CiphertextOnly
	}
	return Absent
}

// HasPlaintext reports whether a scratch copy exists
func (s State) HasPlaintext() bool {
	return s == PlaintextOnly || s == Both
}

// HasCiphertext reports whether an archive exists
func (s State) HasCiphertext() bool {
	return s == CiphertextOnly || s == Both
}

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case PlaintextOnly:
		return "plaintext-only"
	case CiphertextOnly:
		return "encrypted"
	case Both:
		return "plaintext+encrypted"
	}
	return "unknown"
}

// Entry is a credential and its state, as returned by List
type Entry struct {
	Name  string
	State State
}
