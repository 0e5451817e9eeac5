package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 12

// PasswordValidationError lists every rule a password failed.
type PasswordValidationError struct {
	Messages []string
}

func (e *PasswordValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

type passwordRule struct {
	message string
	match   func(rune) bool
}

var passwordRules = []passwordRule{
	{"password must contain at least 1 uppercase letter", unicode.IsUpper},
	{"password must contain at least 1 lowercase letter", unicode.IsLower},
	{"password must contain at least 1 digit", unicode.IsDigit},
	{"password must contain at least 1 special character", isSpecialChar},
}

// ValidatePassword checks length and character-class requirements.
func ValidatePassword(password string) error {
	var messages []string

	if utf8.RuneCountInString(password) < MinPasswordLength {
		messages = append(messages, "password must be at least 12 characters")
	}
	for _, rule := range passwordRules {
		if !strings.ContainsFunc(password, rule.match) {
			messages = append(messages, rule.message)
		}
	}

	if len(messages) > 0 {
		return &PasswordValidationError{Messages: messages}
	}
	return nil
}

func isSpecialChar(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// HashPassword validates and bcrypt-hashes a password.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
