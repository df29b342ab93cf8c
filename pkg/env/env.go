package env

import (
	"os"
	"strings"
)

// Get returns the value of key, or fallback when unset or blank.
func Get(key, fallback string) string {
	return First(fallback, key)
}

// First returns the first non-blank value among keys, in order.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}
