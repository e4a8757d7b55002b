// Package environment reads typed settings from environment variables.
//
// Every helper falls back to a default when the variable is unset, empty or
// unparsable; none of them exit the process.
package environment

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the value of name and whether it was set to a non-empty
// string.
func Lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// StringOr returns the value of name, or def.
func StringOr(name, def string) string {
	if v, ok := Lookup(name); ok {
		return v
	}
	return def
}

// BoolOr parses name with strconv.ParseBool, also accepting yes/no/on/off.
func BoolOr(name string, def bool) bool {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntOr parses name as a decimal integer.
func IntOr(name string, def int) int {
	return parseOr(name, def, strconv.Atoi)
}

// DurationOr parses name with time.ParseDuration ("3s", "10m").
func DurationOr(name string, def time.Duration) time.Duration {
	return parseOr(name, def, time.ParseDuration)
}

// StringSliceOr splits name on commas, dropping blank elements.
func StringSliceOr(name string, def []string) []string {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parseOr[T any](name string, def T, parse func(string) (T, error)) T {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}
