// Package raw reads environment variables without logging, so the logger
// can configure itself from it
package raw

import (
	"os"
	"strconv"
	"strings"
)

// Env is a prefixed view of the environment
type Env struct{ prefix string }

// New returns an unprefixed view
func New() Env { return Env{} }

// Prefix extends the prefix, e.g. New().Prefix("LOG_")
func (e Env) Prefix(p string) Env { return Env{prefix: e.prefix + p} }

// Get returns the trimmed value or def when unset or blank
func (e Env) Get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(e.prefix + key)); v != "" {
		return v
	}
	return def
}

// Bool accepts strconv bools plus yes/no and on/off
func (e Env) Bool(key string, def bool) bool {
	switch v := strings.ToLower(e.Get(key, "")); v {
	case "":
		return def
	case "yes", "on":
		return true
	case "no", "off":
		return false
	default:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
}

// Int parses a non negative integer, def otherwise
func (e Env) Int(key string, def int) int {
	n, err := strconv.Atoi(e.Get(key, ""))
	if err != nil || n < 0 {
		return def
	}
	return n
}
