// Package config loads service configuration from the process environment.
//
// Every component declares its own Config struct with `env` tags
// (github.com/caarlos0/env/v11). Load parses one of those structs and caches the result
// per type, so repeated calls from different parts of the binary are cheap and always
// agree. A `.env` file in the working directory is applied once, before the first
// parse, via github.com/joho/godotenv; real environment variables take precedence.
//
//	var cfg usage.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Parse skips the cache and is what tests use after t.Setenv.
package config
