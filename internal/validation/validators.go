package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/auth-gateway/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	if err := Validate.RegisterValidation("role", validateRole); err != nil {
		panic(fmt.Sprintf("failed to register role validator: %v", err))
	}
	if err := Validate.RegisterValidation("token_type", validateTokenType); err != nil {
		panic(fmt.Sprintf("failed to register token_type validator: %v", err))
	}
}

// validateRole validates that a string is a valid Role enum value
func validateRole(fl validator.FieldLevel) bool {
	return models.Role(fl.Field().String()).Valid()
}

// validateTokenType validates that a string is a valid TokenType enum value
func validateTokenType(fl validator.FieldLevel) bool {
	return models.TokenType(fl.Field().String()).Valid()
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateRole validates a Role string value
func ValidateRole(value string) error {
	if !models.Role(value).Valid() {
		return fmt.Errorf("invalid role: %s (must be 'admin', 'manager', or 'user')", value)
	}
	return nil
}

// ValidateTokenType validates a TokenType string value
func ValidateTokenType(value string) error {
	if !models.TokenType(value).Valid() {
		return fmt.Errorf("invalid token type: %s (must be 'access_token' or 'refresh_token')", value)
	}
	return nil
}
