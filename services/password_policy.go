package services

import "unicode"

// Password requirements
const (
	MinPasswordLength = 12
	MaxPasswordLength = 72 // bcrypt ignores bytes beyond 72
)

// ValidatePassword checks the complexity requirements:
// 12 to 72 bytes with an uppercase letter, a lowercase letter, a number and a special character
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return InvalidArgument("password must be at least %d characters long", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return InvalidArgument("password must be at most %d characters long", MaxPasswordLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return InvalidArgument("password must contain at least one uppercase letter")
	case !hasLower:
		return InvalidArgument("password must contain at least one lowercase letter")
	case !hasNumber:
		return InvalidArgument("password must contain at least one number")
	case !hasSpecial:
		return InvalidArgument("password must contain at least one special character")
	}
	return nil
}
