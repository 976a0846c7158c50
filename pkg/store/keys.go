package store

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxCollectionLength bounds collection names so they fit backend key limits.
const MaxCollectionLength = 128

// ValidateCollection checks that a collection name is usable by every backend.
//
// Rules:
// - Non-empty string
// - At most MaxCollectionLength bytes
// - No control characters
// - No leading or trailing whitespace
// - No ':' (reserved as the key separator)
func ValidateCollection(name string) error {
	if name == "" {
		return ErrInvalidCollection
	}

	if len(name) > MaxCollectionLength {
		return fmt.Errorf("%w: name too long (max %d)", ErrInvalidCollection, MaxCollectionLength)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control character", ErrInvalidCollection)
		}
	}

	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: name has leading or trailing whitespace", ErrInvalidCollection)
	}

	if strings.Contains(name, KeySeparator) {
		return fmt.Errorf("%w: name contains %q", ErrInvalidCollection, KeySeparator)
	}

	return nil
}

// KeySeparator joins key prefixes and collection names.
const KeySeparator = ":"

// KeyPattern builds backend keys for collections under a common prefix.
type KeyPattern struct {
	prefix string
}

// NewKeyPattern creates a key pattern. An empty prefix yields bare collection names.
func NewKeyPattern(prefix string) *KeyPattern {
	return &KeyPattern{prefix: strings.TrimSuffix(prefix, KeySeparator)}
}

// Key returns the backend key for a collection.
// Example: NewKeyPattern("ledger").Key("accounts") -> "ledger:accounts"
func (kp *KeyPattern) Key(collection string) string {
	if kp.prefix == "" {
		return collection
	}
	return kp.prefix + KeySeparator + collection
}
