package storage

import (
	"time"
)

// Phase is the step an in-flight operation had reached
type Phase string

const (
	PhaseDecrypting Phase = "decrypting"
	PhaseInUse      Phase = "in-use"
	PhaseEncrypting Phase = "encrypting"
	PhaseRekeying   Phase = "rekeying"
)

// Record is an in-flight operation on one credential
type Record struct {
	OpID    string    `json:"opId"`
	Name    string    `json:"name"`
	Phase   Phase     `json:"phase"`
	Started time.Time `json:"started"`
	Updated time.Time `json:"updated"`
}

// IndexEntry is the public, password-free view of a credential
type IndexEntry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastSealed   time.Time `json:"lastSealed,omitempty"`
	LastUnsealed time.Time `json:"lastUnsealed,omitempty"`
}

// KDFParams pins how keys are derived for a vault
type KDFParams struct {
	Strategy   string
	Iterations uint32
}
