package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers relay-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: validates Go duration strings ("30m", "1h30m").
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration accepts any positive time.ParseDuration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTLSPair(); err != nil {
		return err
	}
	if err := c.validateStoreBackend(); err != nil {
		return err
	}
	if err := c.validateAgentEndpoint(); err != nil {
		return err
	}

	return nil
}

// validateTLSPair ensures the certificate and key are set together.
func (c *Config) validateTLSPair() error {
	hasCert := c.Server.TLSCert != ""
	hasKey := c.Server.TLSKey != ""
	if hasCert != hasKey {
		return errors.New("server: tls_cert and tls_key must be set together")
	}
	return nil
}

// validateStoreBackend ensures the redis backend has an address.
func (c *Config) validateStoreBackend() error {
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return errors.New("store: backend is redis but store.redis.addr is empty")
	}
	return nil
}

// validateAgentEndpoint requires an upstream endpoint outside dev mode.
// In dev mode the built-in mock runtime serves agent queries.
func (c *Config) validateAgentEndpoint() error {
	if c.Agent.Endpoint == "" && !c.DevMode {
		return errors.New("agent: endpoint is required (or run with dev_mode for the mock runtime)")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g., \"30m\", \"1h\")", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
