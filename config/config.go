package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPrefix is prepended to every environment variable name unless
// LoadOptions overrides it.
const DefaultPrefix = "AUTHFLOW_"

// ErrMissingRequired is returned when a field tagged `required` has no value.
var ErrMissingRequired = errors.New("missing required environment variable")

// LoadOptions defines options for loading configuration from environment variables.
type LoadOptions struct {
	Prefix string // Prefix to prepend to environment variable names (default: "AUTHFLOW_")
	Debug  bool   // Enable debug logging of configuration loading process
}

// Load populates a struct from .env file and environment variables using reflection.
// This function automatically loads .env files from the current directory and then
// reads environment variables to populate the provided struct.
//
// The function uses struct field tags to determine environment variable names:
//   - `env:"VAR_NAME"`: Maps the field to the specified environment variable
//   - `env:"VAR_NAME,default:value"`: Provides a default value if env var is not set
//   - `env:"VAR_NAME,required"`: Fails when neither the env var nor a default is set
//
// Environment variable names are automatically prefixed with the value specified
// in LoadOptions.Prefix (defaults to "AUTHFLOW_").
//
// Example:
//
//	type Config struct {
//	    DiscoveryURI string        `env:"DISCOVERY_URI"`
//	    Timeout      time.Duration `env:"HTTP_TIMEOUT,default:30s"`
//	    Scopes       []string      `env:"SCOPE,default:openid,profile"`
//	}
//
//	var cfg Config
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "MYAPP_"})
//	// Will look for MYAPP_DISCOVERY_URI, MYAPP_HTTP_TIMEOUT, MYAPP_SCOPE
func Load(cfg interface{}, opts ...LoadOptions) error {
	options := LoadOptions{Prefix: DefaultPrefix}
	if len(opts) > 0 {
		options = opts[0]
	}
	// Silently try to load .env file, ignore if not found
	_ = godotenv.Load()

	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: expected pointer to struct, got %T", cfg)
	}

	v := rv.Elem()
	t := v.Type()
	printDebug := options.Debug || os.Getenv(DefaultPrefix+"CONFIG_DEBUG") == "true"

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envName, defaultValue, required := parseTag(envTag)

		fullEnvName := options.Prefix + envName
		value := os.Getenv(fullEnvName)
		if value == "" {
			value = defaultValue
		}
		if printDebug {
			fmt.Printf("[AUTHFLOW] %s=%s\n", fullEnvName, redact(fullEnvName, value))
		}

		if value == "" {
			if required {
				return fmt.Errorf("%w: %s", ErrMissingRequired, fullEnvName)
			}
			continue
		}
		if err := setFieldValue(v.Field(i), value); err != nil {
			return fmt.Errorf("config: %s: %w", fullEnvName, err)
		}
	}

	return nil
}

// parseTag splits an env tag into its name and options. A default value may
// contain commas; it extends over following parts until one looks like an
// option (`required` or `key:value`).
func parseTag(tag string) (name, defaultValue string, required bool) {
	parts := strings.Split(tag, ",")
	name = parts[0]
	inDefault := false
	for _, part := range parts[1:] {
		switch {
		case part == "required":
			required = true
			inDefault = false
		case strings.HasPrefix(part, "default:"):
			defaultValue = strings.TrimPrefix(part, "default:")
			inDefault = true
		case strings.Contains(part, ":"):
			inDefault = false
		case inDefault:
			defaultValue += "," + part
		}
	}
	return name, defaultValue, required
}

func redact(name, value string) string {
	upper := strings.ToUpper(name)
	if value != "" && (strings.Contains(upper, "SECRET") || strings.Contains(upper, "PASSWORD") || strings.HasSuffix(upper, "_TOKEN")) {
		return "****"
	}
	return value
}

// setFieldValue converts a raw environment value into the field's type.
//
// Supported types:
//   - string: Direct assignment
//   - int, int64: Parsed using strconv.ParseInt with base 10
//   - bool: Parsed using strconv.ParseBool (supports "true", "false", "1", "0", etc.)
//   - time.Duration: Parsed using time.ParseDuration
//   - []string: Comma separated, entries trimmed, empty entries dropped
func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		// Skip unsupported field types silently
		return nil
	}
	return nil
}
