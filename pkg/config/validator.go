package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers devici-mcp validation rules.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("store_dsn", validateStoreDSN); err != nil {
		return fmt.Errorf("failed to register store_dsn validator: %w", err)
	}
	return nil
}

// validateStoreDSN accepts "memory", sqlite: DSNs and postgres URLs or keyword DSNs.
func validateStoreDSN(fl validator.FieldLevel) bool {
	dsn := fl.Field().String()
	lower := strings.ToLower(dsn)
	switch {
	case lower == MemoryDSN:
		return true
	case strings.HasPrefix(lower, "sqlite:"),
		strings.HasPrefix(lower, "postgres://"),
		strings.HasPrefix(lower, "postgresql://"):
		return true
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		return true
	}
	return false
}

// Validate validates the Config using struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// RequireCredentials reports missing client credentials. Commands that talk
// to the platform call it after LoadConfig.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id (DEVICI_CLIENT_ID)")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret (DEVICI_CLIENT_SECRET)")
	}
	if len(missing) > 0 {
		return errors.New("missing credentials: " + strings.Join(missing, ", "))
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", field, map[string]string{"min": "at least", "max": "at most"}[e.Tag()], e.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be positive", field)
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "store_dsn":
		return fmt.Sprintf("%s must be 'memory', 'sqlite:<dsn>' or a postgres DSN", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
