package stores

import (
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const recordVersionV1 = 1

var (
	ErrNotFound    = errors.New("challenge record not found")
	ErrUnavailable = errors.New("challenge store unavailable")
	ErrCorrupt     = errors.New("challenge record corrupt")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("stores: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 256,
	}.DecMode()
	if err != nil {
		panic("stores: cbor decoder: " + err.Error())
	}
}

// Record is the backend-neutral form of a challenge. Times are Unix
// nanoseconds; Payload is an opaque blob owned by the caller.
type Record struct {
	Version   uint8  `cbor:"0,keyasint"`
	Digest    []byte `cbor:"1,keyasint"`
	IssuedAt  int64  `cbor:"2,keyasint"`
	ExpiresAt int64  `cbor:"3,keyasint"`
	Attempts  int    `cbor:"4,keyasint"`
	Payload   []byte `cbor:"5,keyasint,omitempty"`
}

// Expired reports whether the record is past its deadline at now.
func (r Record) Expired(now time.Time) bool {
	return now.UnixNano() > r.ExpiresAt
}

func (r Record) clone() Record {
	out := r
	out.Digest = append([]byte(nil), r.Digest...)
	if r.Payload != nil {
		out.Payload = append([]byte(nil), r.Payload...)
	}
	return out
}

// Key joins a purpose tag and subject into a store key.
func Key(purpose, subject string) string {
	return purpose + ":" + subject
}

// Marshal encodes v with the deterministic CBOR profile used for records.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a value produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func encodeRecord(r Record) ([]byte, error) {
	r.Version = recordVersionV1
	return encMode.Marshal(r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, ErrCorrupt
	}
	if r.Version != recordVersionV1 {
		return Record{}, ErrCorrupt
	}
	return r, nil
}
