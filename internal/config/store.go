package config

// Store is a flat key-value view of a workspace's configuration. Dotted
// keys such as "log.level" are single keys.
//
// A Store has two layers. Persisted values live in the config file;
// overrides (from the environment) live only in memory and shadow the
// persisted layer for Get and All.
type Store interface {
	Get(key string) (string, bool)
	// Set persists key=value.
	Set(key, value string) error
	// SetInMemory overrides key for this process only.
	SetInMemory(key, value string)
	// Unset removes key from the persisted layer.
	Unset(key string) error
	// All returns a merged copy of both layers.
	All() map[string]string
}
