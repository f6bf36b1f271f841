package config

import (
	"testing"
)

func TestApplyEnvOverrides_Actor(t *testing.T) {
	t.Setenv(EnvActor, "test-actor")

	s := newMemStore(map[string]string{"actor": "${USER}"})
	ApplyEnvOverrides(s)

	if v, _ := s.Get("actor"); v != "test-actor" {
		t.Errorf("actor = %q, want %q", v, "test-actor")
	}
}

func TestApplyEnvOverrides_NoOverride(t *testing.T) {
	t.Setenv(EnvActor, "")

	s := newMemStore(map[string]string{"actor": "${USER}"})
	ApplyEnvOverrides(s)

	if v, _ := s.Get("actor"); v != "${USER}" {
		t.Errorf("actor = %q, want %q (should not change)", v, "${USER}")
	}
}

func TestEnvActorWinsInLoad(t *testing.T) {
	t.Setenv(EnvActor, "ci-bot")

	s := newMemStore(map[string]string{"actor": "alice"})
	ApplyEnvOverrides(s)
	got, err := Load(s)
	if err != nil {
		t.Fatal(err)
	}
	if got.Actor != "ci-bot" {
		t.Errorf("Actor = %q, want ci-bot", got.Actor)
	}
}
