package weird

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/weird/pkg/types"
)

func TestParseUsername(t *testing.T) {
	tests := []struct {
		in   string
		want Username
	}{
		{"alice@example.org", Username{Name: "alice", Domain: "example.org"}},
		{"Alice@Example.ORG", Username{Name: "Alice", Domain: "example.org"}},
		{"  bob@other.test\n", Username{Name: "bob", Domain: "other.test"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUsername(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUsername_Invalid(t *testing.T) {
	for _, in := range []string{"", "alice", "@example.org", "alice@", "a@b@c", "al ice@example.org"} {
		_, err := ParseUsername(in)
		assert.ErrorIs(t, err, types.ErrInvalidFormat, in)
	}
}

func TestUsernameText(t *testing.T) {
	u := Username{Name: "alice", Domain: "example.org"}
	text, err := u.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", string(text))

	var back Username
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, u, back)
	assert.Error(t, back.UnmarshalText([]byte("nodomain")))
}

func TestWeird_ParseUsername(t *testing.T) {
	w := &Weird{domain: "example.org"}
	u, err := w.ParseUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, Username{Name: "alice", Domain: "example.org"}, u)

	u, err = w.ParseUsername("carol@other.test")
	require.NoError(t, err)
	assert.Equal(t, "other.test", u.Domain)
}
