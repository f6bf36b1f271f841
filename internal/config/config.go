// Package config handles beads configuration keys, defaults and the typed
// settings the engine is opened with.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config keys.
const (
	KeyPrefix         = "id.prefix"
	KeyActor          = "actor"
	KeyBackend        = "storage.backend"
	KeyLockTimeout    = "lock.timeout"
	KeyFlushAuto      = "flush.auto"
	KeyFlushThreshold = "flush.threshold"
	KeyAuditRequired  = "audit.required"
	KeyLogFile        = "log.file"
	KeyLogLevel       = "log.level"
	KeyMaxDepth       = "hierarchy.max_depth"
)

// FileName is the config file inside the .beads directory.
const FileName = "config.yaml"

// Paths locates a workspace's configuration.
type Paths struct {
	ConfigDir  string // the .beads directory
	ConfigFile string // ConfigDir/config.yaml
}

// Settings are the typed values of the core keys.
type Settings struct {
	Prefix         string
	Actor          string
	Backend        string
	LockTimeout    time.Duration
	FlushAuto      bool
	FlushThreshold int
	AuditRequired  bool
	LogFile        string // relative paths are inside the .beads directory
	LogLevel       string
	MaxDepth       int
}

// AutoCompact returns the record threshold for automatic compaction, or
// zero when it is disabled.
func (s Settings) AutoCompact() int {
	if !s.FlushAuto {
		return 0
	}
	return s.FlushThreshold
}

// Load reads the core keys from s. Missing keys take their defaults; the
// actor falls back to $USER. Call ApplyEnvOverrides first so env values win.
func Load(s Store) (Settings, error) {
	get := func(key string) string {
		if v, ok := s.Get(key); ok {
			return strings.TrimSpace(v)
		}
		return DefaultValues()[key]
	}

	out := Settings{
		Prefix:   get(KeyPrefix),
		Actor:    os.ExpandEnv(get(KeyActor)),
		Backend:  get(KeyBackend),
		LogFile:  get(KeyLogFile),
		LogLevel: get(KeyLogLevel),
	}
	if out.Actor == "" {
		out.Actor = "unknown"
	}

	var err error
	if out.LockTimeout, err = time.ParseDuration(get(KeyLockTimeout)); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyLockTimeout, err)
	}
	if out.FlushAuto, err = strconv.ParseBool(get(KeyFlushAuto)); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyFlushAuto, err)
	}
	if out.FlushThreshold, err = strconv.Atoi(get(KeyFlushThreshold)); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyFlushThreshold, err)
	}
	if out.AuditRequired, err = strconv.ParseBool(get(KeyAuditRequired)); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyAuditRequired, err)
	}
	if out.MaxDepth, err = strconv.Atoi(get(KeyMaxDepth)); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyMaxDepth, err)
	}
	return out, nil
}
