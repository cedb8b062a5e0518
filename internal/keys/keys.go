// Package keys holds the helpers used where fingerprints and armored
// public keys cross into this service from the key-management side.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

var (
	// ErrNotPublicKey is returned when the armored block is not a public key.
	ErrNotPublicKey = errors.New("armored block is not a public key")
	// ErrNoKeyFound is returned when the armored input contains no usable key.
	ErrNoKeyFound = errors.New("no key found in armored input")
)

// KeyInfo is what this service needs to know about an armored public key.
type KeyInfo struct {
	// Fingerprint is the canonical uppercase-hex primary key fingerprint.
	Fingerprint string
	// Identity is the primary user identity on the key, if any.
	Identity string
}

// ParseArmoredPublicKey decodes an armored public key and extracts its
// fingerprint and primary identity.
func ParseArmoredPublicKey(armored string) (*KeyInfo, error) {
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("decode armor: %w", err)
	}
	if block.Type != openpgp.PublicKeyType {
		return nil, ErrNotPublicKey
	}
	entities, err := openpgp.ReadKeyRing(block.Body)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	if len(entities) == 0 {
		return nil, ErrNoKeyFound
	}
	e := entities[0]
	info := &KeyInfo{
		Fingerprint: strings.ToUpper(hex.EncodeToString(e.PrimaryKey.Fingerprint[:])),
	}
	if id := e.PrimaryIdentity(); id != nil {
		info.Identity = id.Name
	}
	return info, nil
}

// CanonicalFingerprint normalizes a fingerprint arriving from outside:
// uppercased, with space and colon separators stripped. Two devices must
// canonicalize identically or the SAS comparison silently diverges; the
// codec itself treats fingerprints as opaque, so this runs only at the
// API/CLI boundary.
func CanonicalFingerprint(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '\t':
			return -1
		}
		return r
	}, s)
	return strings.ToUpper(s)
}

// FingerprintMatchesKey reports whether a claimed fingerprint matches the
// primary key in the given armored public key. Used to cross-check a
// scanned payload's fpr field against the key it carries.
func FingerprintMatchesKey(fingerprint, armored string) (bool, error) {
	info, err := ParseArmoredPublicKey(armored)
	if err != nil {
		return false, err
	}
	return CanonicalFingerprint(fingerprint) == info.Fingerprint, nil
}
