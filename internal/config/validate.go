package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"beads-engine/internal/logging"
)

// validValues maps known keys to their allowed values.
// An empty slice means the key has a type-specific check below.
var validValues = map[string][]string{
	KeyBackend:        {"wal", "sqlite"},
	KeyPrefix:         {},
	KeyActor:          {},
	KeyLockTimeout:    {},
	KeyFlushAuto:      {},
	KeyFlushThreshold: {},
	KeyAuditRequired:  {},
	KeyLogFile:        {},
	KeyLogLevel:       {},
	KeyMaxDepth:       {},
}

// IsKnownKey reports whether key is one of the core keys.
func IsKnownKey(key string) bool {
	_, ok := validValues[key]
	return ok
}

// CheckValue validates a single key/value pair. Unknown keys are accepted.
func CheckValue(key, val string) error {
	allowed, ok := validValues[key]
	if !ok {
		return nil
	}
	if len(allowed) > 0 {
		if !contains(allowed, val) {
			return fmt.Errorf("%s: invalid value %q (allowed: %s)", key, val, strings.Join(allowed, ", "))
		}
		return nil
	}

	switch key {
	case KeyPrefix:
		if strings.TrimRight(val, "-") == "" || strings.ContainsAny(val, " \t./") {
			return fmt.Errorf("%s: must be a non-empty word without spaces, dots or slashes, got %q", key, val)
		}
	case KeyLockTimeout:
		d, err := time.ParseDuration(val)
		if err != nil || d < 0 {
			return fmt.Errorf("%s: must be a non-negative duration such as 5s, got %q", key, val)
		}
	case KeyFlushAuto, KeyAuditRequired:
		if _, err := strconv.ParseBool(val); err != nil {
			return fmt.Errorf("%s: must be true or false, got %q", key, val)
		}
	case KeyFlushThreshold, KeyMaxDepth:
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return fmt.Errorf("%s: must be a positive integer, got %q", key, val)
		}
	case KeyLogLevel:
		if _, err := logging.ParseLevel(val); err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
	}
	return nil
}

// Validate checks all values in s for known keys. It returns an error
// describing every invalid value found, or nil if all values are valid.
func Validate(s Store) error {
	all := s.All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []string
	for _, key := range keys {
		if err := CheckValue(key, all[key]); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
