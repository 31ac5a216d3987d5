package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignedTokenParser_RoundTrip(t *testing.T) {
	parser := NewSignedTokenParser("secret")

	token := parser.Sign("alice")
	username, err := parser.Parse(token)
	assert.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestSignedTokenParser_RejectsTamperedToken(t *testing.T) {
	parser := NewSignedTokenParser("secret")

	token := NewSignedTokenParser("other-secret").Sign("alice")
	_, err := parser.Parse(token)
	assert.Error(t, err)
}

func TestSignedTokenParser_RejectsMalformedToken(t *testing.T) {
	parser := NewSignedTokenParser("secret")

	for _, token := range []string{"", "nodot", "bad base64.%%%", "YWxpY2U."} {
		_, err := parser.Parse(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestPrincipal_Roles(t *testing.T) {
	p := &Principal{Roles: []string{"collection", "load"}}
	assert.True(t, p.HasRole("load"))
	assert.False(t, p.HasRole("qa"))
	assert.False(t, p.IsAdmin())

	admin := &Principal{Roles: []string{"admin"}}
	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.HasRole("admin"))
}
