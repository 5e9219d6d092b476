package weird

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Username is a user's handle on an instance, written name@domain.
type Username struct {
	Name   string
	Domain string
}

// ParseUsername parses name@domain. The domain is lowercased.
func ParseUsername(s string) (Username, error) {
	name, domain, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return Username{}, fmt.Errorf("%w: username %q has no domain", types.ErrInvalidFormat, s)
	}
	u := Username{Name: name, Domain: strings.ToLower(domain)}
	if err := u.validate(); err != nil {
		return Username{}, err
	}
	return u, nil
}

func (u Username) validate() error {
	switch {
	case u.Name == "" || u.Domain == "":
		return fmt.Errorf("%w: username %q needs a name and a domain", types.ErrInvalidFormat, u.String())
	case strings.ContainsAny(u.Name, "@ \t\n") || strings.ContainsAny(u.Domain, "@ \t\n"):
		return fmt.Errorf("%w: username %q contains invalid characters", types.ErrInvalidFormat, u.String())
	}
	return nil
}

// String returns name@domain.
func (u Username) String() string { return u.Name + "@" + u.Domain }

// MarshalText implements encoding.TextMarshaler.
func (u Username) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// UnmarshalText parses and validates name@domain.
func (u *Username) UnmarshalText(text []byte) error {
	parsed, err := ParseUsername(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ParseUsername parses a username, treating a bare name as one on this
// instance's domain.
func (w *Weird) ParseUsername(s string) (Username, error) {
	if !strings.Contains(s, "@") {
		s = s + "@" + w.domain
	}
	return ParseUsername(s)
}
