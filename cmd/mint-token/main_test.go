package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/checkpoint-service/internal/auth"
	"github.com/spec-kit/checkpoint-service/internal/domain"
)

func TestRunMintsParsableToken(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"--subject", "scanner-1", "--role", "scanner", "--secret", "s3cret"}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "expires_at="))

	claims, err := auth.NewTokenManager("s3cret", 60).ParseToken(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "scanner-1", claims.SubjectID)
	assert.Equal(t, domain.RoleScanner, claims.Role)
}

func TestRunValidatesFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing subject", args: []string{"--secret", "s3cret"}},
		{name: "missing secret", args: []string{"--subject", "emp-1", "--secret", ""}},
		{name: "unknown role", args: []string{"--subject", "emp-1", "--secret", "s3cret", "--role", "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(tt.args, &out))
		})
	}
}
