package auth

import (
	"fmt"
	"unicode"

	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
)

// maxPasswordBytes is the longest input bcrypt accepts
const maxPasswordBytes = 72

// PasswordValidator checks passwords against the configured policy
type PasswordValidator struct {
	policy config.PasswordConfig
}

// NewPasswordValidator creates a new PasswordValidator instance
func NewPasswordValidator(policy config.PasswordConfig) *PasswordValidator {
	return &PasswordValidator{policy: policy}
}

// ValidatePassword returns one message per unmet rule, or nil when the password is acceptable
func (v *PasswordValidator) ValidatePassword(password string) []string {
	var problems []string

	if len([]rune(password)) < v.policy.MinLength {
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters long", v.policy.MinLength))
	}

	if len(password) > maxPasswordBytes {
		problems = append(problems, fmt.Sprintf("Password must be at most %d bytes long", maxPasswordBytes))
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if v.policy.RequireUppercase && !hasUpper {
		problems = append(problems, "Password must contain at least one uppercase letter")
	}
	if v.policy.RequireLowercase && !hasLower {
		problems = append(problems, "Password must contain at least one lowercase letter")
	}
	if v.policy.RequireNumber && !hasNumber {
		problems = append(problems, "Password must contain at least one number")
	}
	if v.policy.RequireSpecial && !hasSpecial {
		problems = append(problems, "Password must contain at least one special character")
	}

	return problems
}

// IsValidPassword returns true if the password meets all requirements
func (v *PasswordValidator) IsValidPassword(password string) bool {
	return len(v.ValidatePassword(password)) == 0
}
