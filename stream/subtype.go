package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// Subtype selects the backend a controller opens its stream on.
type Subtype int

const (
	// SubtypeNative is the low-level callback backend.
	SubtypeNative Subtype = 1
	// SubtypeLegacy is the older higher-level backend.
	SubtypeLegacy Subtype = 2
)

func (s Subtype) String() string {
	switch s {
	case SubtypeNative:
		return "native"
	case SubtypeLegacy:
		return "legacy"
	default:
		return "subtype(" + strconv.Itoa(int(s)) + ")"
	}
}

// Valid reports whether s is one of the recognized subtypes.
func (s Subtype) Valid() bool {
	return s == SubtypeNative || s == SubtypeLegacy
}

// ParseSubtype accepts a subtype name or its numeric value.
func ParseSubtype(v string) (Subtype, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "native", "1":
		return SubtypeNative, nil
	case "legacy", "2":
		return SubtypeLegacy, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSubtype, v)
}

// Backends maps each recognized subtype to its strategy.
type Backends map[Subtype]Backend

// Resolve returns the backend for s. Unrecognized subtypes and subtypes with
// no registered backend are configuration errors.
func (b Backends) Resolve(s Subtype) (Backend, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSubtype, int(s))
	}
	be, ok := b[s]
	if !ok || be == nil {
		return nil, fmt.Errorf("%w: no backend registered for %s", ErrUnknownSubtype, s)
	}
	return be, nil
}
