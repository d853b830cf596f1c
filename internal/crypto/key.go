package crypto

import (
	"fmt"

	"github.com/awnumar/memguard"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

// Key is a derived symmetric key held in locked, read-only memory.
type Key struct {
	buf *memguard.LockedBuffer
}

// NewKey moves raw into a locked buffer. raw is wiped on return,
// whether or not it had the right length.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		ClearBytes(raw)
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", kgerrors.ErrDerivation, KeySize, len(raw))
	}
	buf := memguard.NewBufferFromBytes(raw)
	buf.Freeze()
	return &Key{buf: buf}, nil
}

// Bytes exposes the key material. The slice is invalid after Destroy.
func (k *Key) Bytes() []byte {
	if k == nil || k.buf == nil {
		return nil
	}
	return k.buf.Bytes()
}

// Equal reports whether two keys hold the same material, in constant time.
func (k *Key) Equal(other *Key) bool {
	return ConstantTimeCompare(k.Bytes(), other.Bytes())
}

// Destroy wipes the key. Safe to call more than once.
func (k *Key) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
	k.buf = nil
}
