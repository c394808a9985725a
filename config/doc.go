// Package config provides flexible configuration loading from environment variables
// with support for custom prefixes, automatic type conversion, and .env file loading.
//
// # Basic Usage
//
// Define a configuration struct with environment variable tags:
//
//	type Config struct {
//	    ClientID    string        `env:"CLIENT_ID"`
//	    RedirectURI string        `env:"REDIRECT_URI,required"`
//	    Scope       []string      `env:"SCOPE,default:openid,profile,email"`
//	    Timeout     time.Duration `env:"HTTP_TIMEOUT,default:30s"`
//	}
//
// Load configuration from environment variables:
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// Without options the AUTHFLOW_ prefix is used, so the example above reads
// AUTHFLOW_CLIENT_ID, AUTHFLOW_REDIRECT_URI and so on.
//
// # Custom Prefixes
//
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "MYAPP_"})
//
// Every package in this module exposes the same pattern through a builder:
//
//	flowCfg, err := authflow.WithPrefix("MYAPP_").Config()
//	store, err := cache.WithPrefix("MYAPP_").New()
//
// # Supported Types
//
//   - string
//   - int, int64
//   - bool ("true", "false", "1", "0")
//   - time.Duration ("1h30m", "500ms")
//   - []string (comma separated, entries trimmed)
//
// Unsupported field types are skipped.
//
// # Tag Options
//
//   - `env:"NAME,default:value"`: value used when the variable is unset. The
//     default may contain commas.
//   - `env:"NAME,required"`: Load returns ErrMissingRequired when the variable
//     is unset and no default exists.
//
// # Environment File Support
//
// A .env file in the working directory is loaded first with
// github.com/joho/godotenv. Variables already present in the environment take
// precedence over the file.
//
// # Debug Mode
//
// Set AUTHFLOW_CONFIG_DEBUG=true or LoadOptions{Debug: true} to print every
// lookup. Values of variables whose name contains SECRET or PASSWORD, or ends
// with _TOKEN, are masked.
package config
