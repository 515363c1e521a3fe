package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable keys consulted for the live API credential, in order.
var CredentialKeys = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"}

type EnvParser[T any] func(string) (T, error)

func GetenvString(s string) (string, error) {
	return s, nil
}

func GetenvInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func GetenvBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

func GetenvDuration(s string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(s))
}

// Getenv reads key and parses it. An unset or empty key yields def, or an
// error when required is set.
func Getenv[T any](parse EnvParser[T], key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			return def, fmt.Errorf("environment variable %s is required", key)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("parsing environment variable %s: %w", key, err)
	}
	return v, nil
}

// MustGetenv is Getenv that panics on error.
func MustGetenv[T any](parse EnvParser[T], key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}

// CredentialSource resolves the live API credential.
type CredentialSource interface {
	Lookup() (string, error)
}

// EnvCredentials looks up the first non-empty variable among Keys.
type EnvCredentials struct {
	Keys []string
}

func (e EnvCredentials) Lookup() (string, error) {
	keys := e.Keys
	if len(keys) == 0 {
		keys = CredentialKeys
	}
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, nil
		}
	}
	return "", &ConfigError{Keys: keys}
}

// StaticCredentials always returns Key; an empty Key is a ConfigError naming Keys.
type StaticCredentials struct {
	Key  string
	Keys []string
}

func (s StaticCredentials) Lookup() (string, error) {
	if s.Key == "" {
		keys := s.Keys
		if len(keys) == 0 {
			keys = CredentialKeys
		}
		return "", &ConfigError{Keys: keys}
	}
	return s.Key, nil
}
