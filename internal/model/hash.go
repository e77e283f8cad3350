package model

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash identifies clipboard content for duplicate detection. It is stored as
// a hex TEXT column.
type Hash uint64

var (
	_ fmt.Stringer  = (*Hash)(nil)
	_ sql.Scanner   = (*Hash)(nil)
	_ driver.Valuer = (*Hash)(nil)
)

func (h Hash) String() string {
	return strconv.FormatUint(uint64(h), 16)
}

// Value implements driver.Valuer.
func (h Hash) Value() (driver.Value, error) {
	return h.String(), nil
}

// Scan implements sql.Scanner.
func (h *Hash) Scan(value any) error {
	if value == nil {
		*h = 0
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte: // SQLite may hand TEXT back as BLOB
		s = string(v)
	default:
		return fmt.Errorf("unsupported type scanned for Hash: %T", value)
	}

	parsed, err := ParseHash(s)
	if err != nil {
		return fmt.Errorf("scan Hash: %w", err)
	}
	*h = parsed
	return nil
}

// ParseHash parses the hex form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	u, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", s, err)
	}
	return Hash(u), nil
}

// HashPayload hashes the canonical format of a capture. The format name is
// part of the key so that identical bytes offered under different formats
// are not treated as the same clip.
func HashPayload(p Payload) Hash {
	w := xxhash.New()
	_, _ = w.WriteString(p.Name)
	_, _ = w.Write([]byte{0})
	_, _ = w.Write(p.Data)
	return Hash(w.Sum64())
}
