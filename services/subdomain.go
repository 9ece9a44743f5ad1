package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tls_portal_go/models"

	"gorm.io/gorm"
)

const (
	subdomainPrefixLen = 4
	subdomainDigits    = 4
	// DefaultSubdomainAttempts bounds AllocateSubdomain when no limit is configured
	DefaultSubdomainAttempts = 10
)

var (
	nonLowerLetters  = regexp.MustCompile(`[^a-z]`)
	nonDigits        = regexp.MustCompile(`\D`)
	subdomainPattern = regexp.MustCompile(`^[a-z]{4}\d{4}\d*$`)
)

// DeriveSubdomain builds the base portal label from a last name and phone number:
// four lowercase letters (padded with "x") followed by the last four digits.
func DeriveSubdomain(lastName, mobile string) (string, error) {
	letters := nonLowerLetters.ReplaceAllString(strings.ToLower(strings.TrimSpace(lastName)), "")
	if len(letters) > subdomainPrefixLen {
		letters = letters[:subdomainPrefixLen]
	}
	prefix := letters + strings.Repeat("x", subdomainPrefixLen-len(letters))

	digits := nonDigits.ReplaceAllString(mobile, "")
	if len(digits) < subdomainDigits {
		return "", InvalidArgument("Mobile number must have at least %d digits", subdomainDigits)
	}

	return prefix + digits[len(digits)-subdomainDigits:], nil
}

// IsValidSubdomain accepts a derived label, optionally carrying a collision suffix.
func IsValidSubdomain(subdomain string) bool {
	return subdomainPattern.MatchString(subdomain)
}

// ResolveUniqueSubdomain returns candidate if unused, otherwise the first of
// candidate+"2", candidate+"3", ... that is not in used.
func ResolveUniqueSubdomain(candidate string, used map[string]struct{}) string {
	if _, taken := used[candidate]; !taken {
		return candidate
	}
	for counter := 2; ; counter++ {
		next := candidate + strconv.Itoa(counter)
		if _, taken := used[next]; !taken {
			return next
		}
	}
}

// AllocateSubdomain resolves a free label and hands it to insert. A duplicate-key
// failure means another writer won the race: the label is marked used and the
// next suffix is tried, up to maxAttempts times.
func AllocateSubdomain(candidate string, used map[string]struct{}, maxAttempts int, insert func(subdomain string) error) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSubdomainAttempts
	}
	if used == nil {
		used = make(map[string]struct{})
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		subdomain := ResolveUniqueSubdomain(candidate, used)
		err := insert(subdomain)
		if err == nil {
			return subdomain, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", err
		}
		used[subdomain] = struct{}{}
	}

	return "", fmt.Errorf("%w after %d attempts (base %q)", ErrSubdomainExhausted, maxAttempts, candidate)
}

// UsedSubdomains collects every label starting with prefix from clients (archived
// included) and portal configs, across all tenants.
func UsedSubdomains(ctx context.Context, db *gorm.DB, prefix string) (map[string]struct{}, error) {
	pattern := prefix + "%"

	var fromClients []string
	if err := db.WithContext(ctx).Unscoped().Model(&models.Client{}).
		Where("subdomain LIKE ?", pattern).
		Pluck("subdomain", &fromClients).Error; err != nil {
		return nil, fmt.Errorf("failed to list client subdomains: %w", err)
	}

	var fromPortals []string
	if err := db.WithContext(ctx).Model(&models.PortalConfig{}).
		Where("subdomain LIKE ?", pattern).
		Pluck("subdomain", &fromPortals).Error; err != nil {
		return nil, fmt.Errorf("failed to list portal subdomains: %w", err)
	}

	used := make(map[string]struct{}, len(fromClients)+len(fromPortals))
	for _, s := range fromClients {
		used[s] = struct{}{}
	}
	for _, s := range fromPortals {
		used[s] = struct{}{}
	}
	return used, nil
}

// IsSubdomainTaken reports whether any portal config or client (archived included) holds subdomain.
func IsSubdomainTaken(ctx context.Context, db *gorm.DB, subdomain string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.PortalConfig{}).
		Where("subdomain = ?", subdomain).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check portal configs: %w", err)
	}
	if count > 0 {
		return true, nil
	}
	if err := db.WithContext(ctx).Unscoped().Model(&models.Client{}).
		Where("subdomain = ?", subdomain).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check clients: %w", err)
	}
	return count > 0, nil
}
