// Package config loads environment configuration for go-lumina commands.
// Values come from the process environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the given .env files (".env" when none are named) into the
// environment. Variables already set are kept. Missing files are not an
// error; it reports whether any file was loaded.
func Load(files ...string) (bool, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	loaded := false
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		loaded = true
	}
	return loaded, nil
}

// Lookup returns the trimmed value of key and whether it is set and non-empty.
func Lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// Get returns the value of key or def.
func Get(key, def string) string {
	if v, ok := Lookup(key); ok {
		return v
	}
	return def
}

// GetInt returns key parsed as an int, or def if unset or malformed.
func GetInt(key string, def int) int {
	if v, ok := Lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns key parsed as a float64, or def.
func GetFloat(key string, def float64) float64 {
	if v, ok := Lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetBool accepts the forms strconv.ParseBool does plus yes/no and on/off.
func GetBool(key string, def bool) bool {
	v, ok := Lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// GetDuration parses Go duration syntax ("250ms", "2s"). A bare integer is
// taken as milliseconds.
func GetDuration(key string, def time.Duration) time.Duration {
	v, ok := Lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return def
}
