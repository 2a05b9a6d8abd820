package fact

import (
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Schema declares one fact kind: a table name and the names of its key fields.
// Persistence backends derive their tables from it.
type Schema struct {
	Name      string
	KeyFields []string
}

// Validate checks that the schema can be used as a table definition.
func (s Schema) Validate() error {
	if !identPattern.MatchString(s.Name) {
		return fmt.Errorf("invalid table name %q", s.Name)
	}
	if len(s.KeyFields) == 0 {
		return fmt.Errorf("table %s: at least one key field is required", s.Name)
	}
	seen := make(map[string]bool, len(s.KeyFields))
	for _, f := range s.KeyFields {
		if !identPattern.MatchString(f) {
			return fmt.Errorf("table %s: invalid key field %q", s.Name, f)
		}
		if f == "branch" || f == "tick" || f == "value" {
			return fmt.Errorf("table %s: key field %q is reserved", s.Name, f)
		}
		if seen[f] {
			return fmt.Errorf("table %s: duplicate key field %q", s.Name, f)
		}
		seen[f] = true
	}
	return nil
}

// Key is the composite key of a fact. Components may not contain NUL or
// the unit separator.
type Key []string

const keySep = "\x1f"

// String renders the key for messages, e.g. (physical, alice).
func (k Key) String() string {
	return "(" + strings.Join(k, ", ") + ")"
}

func (k Key) encode() string {
	return strings.Join(k, keySep)
}

// HasPrefix reports whether k starts with every component of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) validate() error {
	for _, c := range k {
		if strings.ContainsAny(c, "\x00"+keySep) {
			return fmt.Errorf("key component %q contains a reserved character", c)
		}
	}
	return nil
}

func decodeKey(enc string) Key {
	return Key(strings.Split(enc, keySep))
}
