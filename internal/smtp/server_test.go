package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"valid email", "user@example.com", "example.com"},
		{"valid email with subdomain", "user@mail.example.com", "mail.example.com"},
		{"uppercase domain", "user@EXAMPLE.COM", "example.com"},
		{"invalid email - no at symbol", "userexample.com", ""},
		{"invalid email - multiple at symbols", "user@domain@example.com", ""},
		{"invalid email - empty string", "", ""},
		{"email with plus addressing", "user+tag@example.com", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractDomain(tt.email))
		})
	}
}

func TestSessionReset(t *testing.T) {
	s := &Session{
		from:       "sender@example.com",
		fromDomain: "example.com",
		recipients: []string{"a@example.com", "b@example.com"},
	}

	s.Reset()

	assert.Empty(t, s.from)
	assert.Empty(t, s.fromDomain)
	assert.Nil(t, s.recipients)
}
