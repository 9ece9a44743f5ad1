package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		errMsg   string
	}{
		{"Valid complex password", "StrongPassword123!", ""},
		{"Too short", "Short1!", "at least 12 characters"},
		{"Too long", "Aa1!" + strings.Repeat("x", 80), "at most 72 characters"},
		{"Missing uppercase", "lowercase123!", "uppercase letter"},
		{"Missing lowercase", "UPPERCASE123!", "lowercase letter"},
		{"Missing number", "NoNumbersHere!", "one number"},
		{"Missing special", "NoSpecialChar123", "special character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.True(t, IsKind(err, KindInvalidArgument))
		})
	}
}
