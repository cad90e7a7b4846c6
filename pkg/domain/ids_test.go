package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "organlink/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseOrganID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseOrganID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseAllocationID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		parsed, err := ParseAllocationID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, AllocationID(validUUID), parsed)
	})
}

func TestParseID_HostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE organs;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequestID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	validUUID := uuid.New().String()

	parsers := map[string]func(string) error{
		"user":       func(s string) error { _, err := ParseUserID(s); return err },
		"hospital":   func(s string) error { _, err := ParseHospitalID(s); return err },
		"organ":      func(s string) error { _, err := ParseOrganID(s); return err },
		"request":    func(s string) error { _, err := ParseRequestID(s); return err },
		"allocation": func(s string) error { _, err := ParseAllocationID(s); return err },
		"consent":    func(s string) error { _, err := ParseConsentID(s); return err },
	}

	for name, parse := range parsers {
		t.Run(name+" accepts valid UUID", func(t *testing.T) {
			require.NoError(t, parse(validUUID))
		})
		for _, input := range []string{"", "invalid", uuid.Nil.String()} {
			t.Run(name+" rejects "+input, func(t *testing.T) {
				require.Error(t, parse(input))
			})
		}
	}
}

func TestIDs_JSONUsesCanonicalForm(t *testing.T) {
	raw := uuid.New()
	organID := OrganID(raw)

	b, err := json.Marshal(struct {
		ID OrganID `json:"id"`
	}{ID: organID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+raw.String()+`"}`, string(b))

	var decoded struct {
		ID OrganID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, organID, decoded.ID)
	assert.False(t, decoded.ID.IsNil())
}
