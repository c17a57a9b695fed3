package main

import (
	"testing"

	"tagfinder/internal/config"
)

func TestApplyFlagOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "info"
	cfg.Mode = "normal"

	applyFlagOverrides(cfg, "debug", "adaptive")
	if cfg.LogLevel != "debug" || cfg.Mode != "adaptive" {
		t.Fatalf("overrides not applied: %s %s", cfg.LogLevel, cfg.Mode)
	}

	// A reloaded config resets the fields; the flags must win again.
	reloaded := config.DefaultConfig()
	applyFlagOverrides(reloaded, "debug", "adaptive")
	if reloaded.LogLevel != "debug" || reloaded.Mode != "adaptive" {
		t.Fatalf("overrides lost on reload: %s %s", reloaded.LogLevel, reloaded.Mode)
	}

	// Empty flags leave the file's values alone.
	untouched := config.DefaultConfig()
	untouched.LogLevel = "warn"
	applyFlagOverrides(untouched, "", "")
	if untouched.LogLevel != "warn" || untouched.Mode != "normal" {
		t.Fatalf("empty flags must not override: %s %s", untouched.LogLevel, untouched.Mode)
	}
}
