package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks struct tags. Field names in its errors are the config
// keys (mapstructure tags) so messages point at what the user wrote.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks cfg against its struct tags, then against the rules that
// span several fields or live inside backend option maps.
//
// Log level case is normalized by ApplyDefaults; both cases validate here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if err := cfg.Adapters.RPC.Validate(); err != nil {
		return fmt.Errorf("adapters.rpc: %w", err)
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Address); err != nil {
			return fmt.Errorf("metrics.address: %w", err)
		}
	}

	if cfg.Storage.Type == "s3" {
		if bucket, _ := cfg.Storage.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("storage.s3: bucket is required")
		}
	}

	return nil
}

// formatValidationError reports the first failing field by its config key,
// e.g. "storage.type: must be one of [filesystem memory s3 badger] (got "tape")".
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	key := e.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}

	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: is required", key)
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s] (got %q)", key, e.Param(), fmt.Sprint(e.Value()))
	case "min":
		return fmt.Errorf("%s: must be >= %s (got %v)", key, e.Param(), e.Value())
	case "gt":
		return fmt.Errorf("%s: must be > %s (got %v)", key, e.Param(), e.Value())
	default:
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", key, e.Tag(), e.Value())
	}
}
