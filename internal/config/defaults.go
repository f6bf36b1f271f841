package config

import (
	"strconv"

	"beads-engine/internal/idgen"
)

// DefaultValues returns the default config map for the core keys.
func DefaultValues() map[string]string {
	return map[string]string{
		KeyPrefix:         "bd-",
		KeyActor:          "${USER}",
		KeyBackend:        "wal",
		KeyLockTimeout:    "5s",
		KeyFlushAuto:      "true",
		KeyFlushThreshold: "1000",
		KeyAuditRequired:  "false",
		KeyLogFile:        "engine.log",
		KeyLogLevel:       "info",
		KeyMaxDepth:       strconv.Itoa(idgen.DefaultMaxHierarchyDepth),
	}
}

// ApplyDefaults fills any missing core keys in s with their default values.
func ApplyDefaults(s Store) error {
	defaults := DefaultValues()
	all := s.All()
	for k, v := range defaults {
		if _, exists := all[k]; !exists {
			if err := s.Set(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}
