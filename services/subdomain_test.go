package services

import (
	"context"
	"errors"
	"testing"

	"tls_portal_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDeriveSubdomain(t *testing.T) {
	tests := []struct {
		name     string
		lastName string
		mobile   string
		want     string
	}{
		{"Short name is padded", "Li", "4155550001", "lixx0001"},
		{"Punctuation is stripped", "O'Brien", "4155554321", "obri4321"},
		{"Long name is truncated", "Smithson", "(650) 253-1234", "smit1234"},
		{"Mixed case and spaces", "  De La Cruz ", "+1 650 253 9876", "dela9876"},
		{"No letters at all", "123", "5551234", "xxxx1234"},
		{"Exactly four digits", "Doe", "1234", "doex1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveSubdomain(tt.lastName, tt.mobile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsValidSubdomain(got))
		})
	}

	t.Run("Fewer than four digits fails", func(t *testing.T) {
		_, err := DeriveSubdomain("Smith", "12-3")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidArgument))
		assert.Contains(t, err.Error(), "at least 4 digits")
	})
}

func TestIsValidSubdomain(t *testing.T) {
	assert.True(t, IsValidSubdomain("smit1234"))
	assert.True(t, IsValidSubdomain("smit12342"))
	assert.False(t, IsValidSubdomain("smi1234"))
	assert.False(t, IsValidSubdomain("SMIT1234"))
	assert.False(t, IsValidSubdomain("smit123"))
	assert.False(t, IsValidSubdomain("smit-1234"))
}

func TestResolveUniqueSubdomain(t *testing.T) {
	t.Run("Free candidate is returned unchanged", func(t *testing.T) {
		assert.Equal(t, "smit1234", ResolveUniqueSubdomain("smit1234", map[string]struct{}{}))
	})

	t.Run("Suffix starts at 2", func(t *testing.T) {
		used := map[string]struct{}{"smit1234": {}}
		assert.Equal(t, "smit12342", ResolveUniqueSubdomain("smit1234", used))
	})

	t.Run("Then 3", func(t *testing.T) {
		used := map[string]struct{}{"smit1234": {}, "smit12342": {}}
		assert.Equal(t, "smit12343", ResolveUniqueSubdomain("smit1234", used))
	})
}

func TestAllocateSubdomain(t *testing.T) {
	t.Run("Retries on duplicate key", func(t *testing.T) {
		var tried []string
		got, err := AllocateSubdomain("smit1234", nil, 5, func(s string) error {
			tried = append(tried, s)
			if len(tried) < 3 {
				return gorm.ErrDuplicatedKey
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "smit12343", got)
		assert.Equal(t, []string{"smit1234", "smit12342", "smit12343"}, tried)
	})

	t.Run("Other errors stop immediately", func(t *testing.T) {
		boom := errors.New("disk full")
		calls := 0
		_, err := AllocateSubdomain("smit1234", nil, 5, func(string) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("Gives up after max attempts", func(t *testing.T) {
		_, err := AllocateSubdomain("smit1234", nil, 3, func(string) error {
			return gorm.ErrDuplicatedKey
		})
		assert.ErrorIs(t, err, ErrSubdomainExhausted)
	})
}

func TestUsedSubdomains(t *testing.T) {
	db := setupTestDB(t)
	tenant := createTestTenant(t, db)
	other := &models.Tenant{Name: "Other Firm", IsActive: true}
	require.NoError(t, db.Create(other).Error)

	createTestClient(t, db, tenant.ID, "smit1234")
	archived := createTestClient(t, db, other.ID, "smit12342")
	require.NoError(t, db.Delete(archived).Error)
	createTestClient(t, db, tenant.ID, "jone5555")
	require.NoError(t, db.Create(&models.PortalConfig{
		Subdomain: "smit12343", ClientID: "c", TenantID: tenant.ID, Status: models.PortalConfigInactive,
	}).Error)

	used, err := UsedSubdomains(context.Background(), db, "smit1234")
	require.NoError(t, err)
	assert.Len(t, used, 3)
	assert.Equal(t, "smit12344", ResolveUniqueSubdomain("smit1234", used))

	taken, err := IsSubdomainTaken(context.Background(), db, "smit12342")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = IsSubdomainTaken(context.Background(), db, "abcd0000")
	require.NoError(t, err)
	assert.False(t, taken)
}
