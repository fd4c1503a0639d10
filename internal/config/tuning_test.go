package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetNeighborhoodRadiusM(); got != 1100.0 {
		t.Errorf("default neighborhood radius: got %v", got)
	}
	if got := cfg.GetMinClusterSize(); got != 5 {
		t.Errorf("default min cluster size: got %v", got)
	}
	if got := cfg.GetMatchRadiusM(); got != 2000.0 {
		t.Errorf("default match radius: got %v", got)
	}
	if got := cfg.GetActiveWindow(); got != 24*time.Hour {
		t.Errorf("default active window: got %v", got)
	}
	if got := cfg.GetClosureTimeout(); got != 120*time.Hour {
		t.Errorf("default closure timeout: got %v", got)
	}
	if cfg.GetAllowReactivation() {
		t.Error("reactivation should default off")
	}
	if cfg.GetKeepNoiseSingletons() {
		t.Error("noise singletons should default off")
	}
}

func TestValidateRejectsNonPositive(t *testing.T) {
	cases := []struct {
		name string
		cfg  TuningConfig
	}{
		{"zero radius", TuningConfig{NeighborhoodRadiusM: ptrFloat64(0)}},
		{"negative radius", TuningConfig{NeighborhoodRadiusM: ptrFloat64(-5)}},
		{"zero cluster size", TuningConfig{MinClusterSize: ptrInt(0)}},
		{"negative match radius", TuningConfig{MatchRadiusM: ptrFloat64(-1)}},
		{"bad active window", TuningConfig{ActiveWindow: ptrString("not-a-duration")}},
		{"negative active window", TuningConfig{ActiveWindow: ptrString("-2h")}},
		{"bad closure timeout", TuningConfig{ClosureTimeout: ptrString("soon")}},
		{"closure not past active", TuningConfig{
			ActiveWindow:   ptrString("48h"),
			ClosureTimeout: ptrString("24h"),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := EmptyTuningConfig().Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	body := `{"neighborhood_radius_m": 500, "min_cluster_size": 2, "active_window": "12h", "closure_timeout": "72h"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetNeighborhoodRadiusM() != 500 {
		t.Errorf("radius: got %v", cfg.GetNeighborhoodRadiusM())
	}
	if cfg.GetMinClusterSize() != 2 {
		t.Errorf("min cluster size: got %v", cfg.GetMinClusterSize())
	}
	if cfg.GetActiveWindow() != 12*time.Hour {
		t.Errorf("active window: got %v", cfg.GetActiveWindow())
	}
	// Omitted fields keep defaults.
	if cfg.GetMatchRadiusM() != 2000.0 {
		t.Errorf("match radius should default: got %v", cfg.GetMatchRadiusM())
	}
}

func TestLoadTuningConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`{"match_radius_m": -10}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected error for invalid values")
	}

	notJSON := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(notJSON, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(notJSON); err == nil {
		t.Error("expected error for non-json extension")
	}

	if _, err := LoadTuningConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
