// Package id provides time-ordered, sortable entity identifiers.
//
// Every CALIBER entity carries an id generated by NewV7: a 128-bit UUID
// whose leading bits encode millisecond creation time, so ids double as
// creation-time ordering keys without a separate sequence column.
package id

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a time-ordered entity identifier (UUIDv7).
type ID uuid.UUID

// Nil is the zero-value ID, never assigned to a real entity.
var Nil ID

// New generates a fresh, creation-time-ordered ID.
func New() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the runtime's random source is broken;
		// that is an environment failure, not a recoverable one.
		panic(fmt.Sprintf("id: failed to generate uuidv7: %v", err))
	}
	return ID(u)
}

// Parse decodes a canonical string form into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: invalid identifier %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParse is Parse but panics on error; for tests and constant ids.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (i ID) String() string {
	return uuid.UUID(i).String()
}

// IsNil reports whether this is the zero-value ID.
func (i ID) IsNil() bool {
	return i == Nil
}

// Bytes returns the raw 16-byte representation, used by pkg/cachekey.
func (i ID) Bytes() [16]byte {
	return uuid.UUID(i)
}

// FromBytes reconstructs an ID from its raw 16-byte representation.
func FromBytes(b [16]byte) ID {
	return ID(uuid.UUID(b))
}

// Compare orders two ids lexicographically by raw bytes. Because UUIDv7
// stores its millisecond timestamp in the leading bytes, this is also
// creation-time order.
func Compare(a, b ID) int {
	ab, bb := uuid.UUID(a), uuid.UUID(b)
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler for JSON/YAML encoding.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value implements driver.Valuer for storage layers backed by database/sql.
func (i ID) Value() (driver.Value, error) {
	if i.IsNil() {
		return nil, nil
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*i = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*i = parsed
		return nil
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
