package config

import (
	"os"
	"testing"
)

func setenv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoadRejectsEmptyEnabledExchanges(t *testing.T) {
	setenv(t, "ENABLED_EXCHANGES", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty ENABLED_EXCHANGES")
	}
}

func TestLoadRejectsUnknownShutdownBehavior(t *testing.T) {
	setenv(t, "ENABLED_EXCHANGES", "alpha")
	setenv(t, "SHUTDOWN_BEHAVIOR", "explode")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid SHUTDOWN_BEHAVIOR")
	}
}

func TestLoadBuildsPerVenueCredentialsAndWarnsOnMissingKey(t *testing.T) {
	setenv(t, "ENABLED_EXCHANGES", "alpha")
	setenv(t, "SHUTDOWN_BEHAVIOR", "wait")
	setenv(t, "TEST_MODE", "false")
	setenv(t, "ALPHA_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := cfg.Venues["alpha"]; !ok {
		t.Fatal("expected alpha venue to be present")
	}

	var warned []string
	cfg.Warnings.Flush(func(msg string) { warned = append(warned, msg) })
	if len(warned) == 0 {
		t.Fatal("expected a warning about the missing API key")
	}
}
