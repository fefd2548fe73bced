package mining

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched by every argument validation failure.
	ErrInvalidArgument = errors.New("mining: invalid argument")

	// ErrOutOfMemory is returned when the scratch buffer cannot be acquired.
	// No hashing has happened when it is returned.
	ErrOutOfMemory = errors.New("mining: out of memory")
)

// ArgumentError describes a rejected argument. It matches ErrInvalidArgument
// through errors.Is.
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("mining: invalid %s: %s", e.Arg, e.Reason)
}

func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalid(arg, format string, args ...any) error {
	return &ArgumentError{Arg: arg, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the inputs of a search the way Search does, without
// hashing anything.
func Validate(alphabet string, start, end uint64, target string) error {
	if len(alphabet) == 0 {
		return invalid("alphabet", "must not be empty")
	}
	var seen [256]bool
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c < 0x20 || c > 0x7e {
			return invalid("alphabet", "byte %q at offset %d is not printable ASCII", c, i)
		}
		if seen[c] {
			return invalid("alphabet", "duplicate character %q at offset %d", c, i)
		}
		seen[c] = true
	}
	if start > end {
		return invalid("range", "start %d is greater than end %d", start, end)
	}
	if len(target) > DigestHexLen {
		return invalid("target", "length %d exceeds %d hex characters", len(target), DigestHexLen)
	}
	for i := 0; i < len(target); i++ {
		c := target[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return invalid("target", "character %q at offset %d is not lowercase hex", c, i)
		}
	}
	return nil
}
