// Package verify implements the out-of-band device verification core:
// the transport payload codec and the short authentication string (SAS)
// derivation. Both are pure; nothing here touches the network or disk.
package verify

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemePrefix is the fixed literal every verification transport string
// starts with. Future payload versions must stay distinguishable by it.
const SchemePrefix = "pgprooms://verify/"

// Payload is the unit exchanged out-of-band between two devices.
// The fingerprint travels under the short wire key "fpr"; interoperating
// implementations depend on these exact field names.
type Payload struct {
	Fingerprint      string `json:"fpr"`
	UserID           string `json:"userId"`
	DeviceLabel      string `json:"deviceLabel"`
	PublicKeyArmored string `json:"publicKeyArmored"`
	// Timestamp is milliseconds since epoch, set at encode time.
	// Advisory only; never checked for expiry here.
	Timestamp int64 `json:"timestamp"`
}

var (
	// ErrNotAPayload is returned when the scanned string lacks the scheme
	// prefix. Frequent and expected: most scans are not verification data.
	ErrNotAPayload = errors.New("not a verification payload")
	// ErrMalformedPayload is returned when the prefix is present but the
	// body cannot be decoded or parsed. Rescanning may help.
	ErrMalformedPayload = errors.New("malformed verification payload")
	// ErrIncompletePayload is returned when the body parses but required
	// fields are missing. Rescanning will not help.
	ErrIncompletePayload = errors.New("incomplete verification payload")
)

// IncompleteError names the required wire fields a parsed payload is
// missing. It matches ErrIncompletePayload under errors.Is.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return "incomplete verification payload: missing " + strings.Join(e.Missing, ", ")
}

func (e *IncompleteError) Is(target error) bool { return target == ErrIncompletePayload }

// Encode builds a payload stamped with the current time and serializes it
// into a transport string safe to embed in a single-line scannable code.
// It cannot fail for string inputs; an encoder error here is a defect.
func Encode(fingerprint, userID, deviceLabel, publicKeyArmored string) string {
	p := Payload{
		Fingerprint:      fingerprint,
		UserID:           userID,
		DeviceLabel:      deviceLabel,
		PublicKeyArmored: publicKeyArmored,
		Timestamp:        time.Now().UnixMilli(),
	}
	body, err := json.Marshal(p)
	if err != nil {
		panic("verify: marshal payload: " + err.Error())
	}
	return SchemePrefix + base64.StdEncoding.EncodeToString(body)
}

// Decode parses a transport string back into a payload. It is total:
// every failure is one of ErrNotAPayload, ErrMalformedPayload (wrapping
// the cause) or *IncompleteError. No partial payload is ever returned.
func Decode(transport string) (*Payload, error) {
	if !strings.HasPrefix(transport, SchemePrefix) {
		return nil, ErrNotAPayload
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(transport, SchemePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var missing []string
	if p.Fingerprint == "" {
		missing = append(missing, "fpr")
	}
	if p.UserID == "" {
		missing = append(missing, "userId")
	}
	if p.DeviceLabel == "" {
		missing = append(missing, "deviceLabel")
	}
	if p.PublicKeyArmored == "" {
		missing = append(missing, "publicKeyArmored")
	}
	if len(missing) > 0 {
		return nil, &IncompleteError{Missing: missing}
	}
	return &p, nil
}

// Age reports how long ago the payload was generated, for UI display.
func (p *Payload) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.Timestamp))
}
