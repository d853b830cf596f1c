package keystore

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
)

var ErrCorruptSalt = fmt.Errorf("%w: corrupt vault salt", kgerrors.ErrDerivation)

// Salt returns the vault salt, creating and persisting it on first use.
// An existing salt is never replaced; a salt of the wrong length is an
// error rather than a reason to generate a new one, since a new salt
// would silently derive a different key.
func (s *Store) Salt() ([]byte, error) {
	data, err := s.pv.ReadFileInRoot(saltRel)
	if err == nil {
		if len(data) != crypto.SaltSize {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrCorruptSalt, s.SaltPath(), len(data), crypto.SaltSize)
		}
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, kgerrors.IO("read", s.SaltPath(), err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kgerrors.ErrDerivation, err)
	}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	if err := s.pv.WriteFileAtomic(saltRel, salt, FilePerm); err != nil {
		return nil, kgerrors.IO("write", s.SaltPath(), err)
	}

	s.log.Info().Str("path", s.SaltPath()).Msg("created vault salt")
	return salt, nil
}
