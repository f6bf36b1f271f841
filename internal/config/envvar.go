package config

import "os"

// Environment variable names for beads configuration.
const (
	EnvBeadsDir = "BEADS_DIR" // Path to .beads directory
	EnvActor    = "BD_ACTOR"  // Override actor name
	EnvJSON     = "BD_JSON"   // Enable JSON output ("1" or "true")
)

// ApplyEnvOverrides checks BD_ACTOR and overrides the actor in memory.
// The override is not persisted to the config file.
func ApplyEnvOverrides(s Store) {
	if actor := os.Getenv(EnvActor); actor != "" {
		s.SetInMemory(KeyActor, actor)
	}
}
