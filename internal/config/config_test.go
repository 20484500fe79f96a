package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-tes/analysis"
	"github.com/cwbudde/algo-tes/stats/aggregate"
	"github.com/cwbudde/algo-tes/sweep"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load()

	def := analysis.DefaultConfig()
	if cfg.Rshunt != def.Rshunt || cfg.Samples != def.Samples || !cfg.RemoveBad {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Database != "tesiv.db" || cfg.Level() != slog.LevelInfo {
		t.Fatalf("got db %q level %v", cfg.Database, cfg.Level())
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TES_CHANNEL", "PBS1")
	t.Setenv("TES_NNORM", "4")
	t.Setenv("TES_NSC", "6")
	t.Setenv("TES_TC", "0.045")
	t.Setenv("TES_REMOVE_BAD", "false")
	t.Setenv("TES_SAMPLES", "not-a-number")
	t.Setenv("TES_LOG_LEVEL", "DEBUG")

	cfg := Load()
	if cfg.Channel != "PBS1" || cfg.NumNormal != 4 || cfg.NumSC != 6 || cfg.Tc != 0.045 || cfg.RemoveBad {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.Samples != analysis.DefaultConfig().Samples {
		t.Fatalf("samples = %d, want default on parse failure", cfg.Samples)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Fatalf("level = %v", cfg.Level())
	}

	ac := analysis.ApplyOptions(cfg.Options()...)
	if ac.Channel != "PBS1" || ac.NumNormal != 4 || ac.NumSC != 6 || ac.Tc != 0.045 || ac.RemoveBad {
		t.Fatalf("options not applied: %+v", ac)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := "TES_RSHUNT=0.01\nTES_G=4e-10\nTES_NSC=2\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("TES_NSC", "3") // environment wins over the file
	t.Cleanup(func() {
		os.Unsetenv("TES_RSHUNT")
		os.Unsetenv("TES_G")
	})

	cfg := Load()
	if cfg.Rshunt != 0.01 || cfg.G != 4e-10 || cfg.NumSC != 3 {
		t.Fatalf("got rshunt %g g %g nsc %d", cfg.Rshunt, cfg.G, cfg.NumSC)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TES_TRANSITION", "5:12")
	t.Setenv("TES_PERCENTILES", "16:84")

	cfg := Load()
	if cfg.Transition == nil || *cfg.Transition != (sweep.Range{Start: 5, End: 12}) {
		t.Fatalf("transition = %v", cfg.Transition)
	}
	ac := analysis.ApplyOptions(cfg.Options()...)
	if ac.Transition == nil || *ac.Transition != (sweep.Range{Start: 5, End: 12}) {
		t.Fatalf("transition option not applied: %v", ac.Transition)
	}
	if ac.Percentiles.Lower != 16 || ac.Percentiles.Upper != 84 {
		t.Fatalf("percentiles option not applied: %+v", ac.Percentiles)
	}

	t.Setenv("TES_TRANSITION", "12:5")
	t.Setenv("TES_PERCENTILES", "90:10")
	cfg = Load()
	if cfg.Transition != nil {
		t.Fatalf("invalid range accepted: %v", cfg.Transition)
	}
	if cfg.Percentiles != aggregate.DefaultPercentiles() {
		t.Fatalf("percentiles = %+v, want default on invalid input", cfg.Percentiles)
	}
	if ac := analysis.ApplyOptions(cfg.Options()...); ac.Transition != nil {
		t.Fatalf("transition override without a range: %v", ac.Transition)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    sweep.Range
		wantErr bool
	}{
		{in: "3:9", want: sweep.Range{Start: 3, End: 9}},
		{in: " 0 : 4 ", want: sweep.Range{Start: 0, End: 4}},
		{in: "4", wantErr: true},
		{in: "4:4", wantErr: true},
		{in: "-1:3", wantErr: true},
		{in: "a:3", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseRange(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParsePercentiles(t *testing.T) {
	tests := []struct {
		in      string
		want    aggregate.MedianPercentile
		wantErr bool
	}{
		{in: "10:90", want: aggregate.MedianPercentile{Lower: 10, Upper: 90}},
		{in: "2.5:97.5", want: aggregate.MedianPercentile{Lower: 2.5, Upper: 97.5}},
		{in: "50", wantErr: true},
		{in: "60:40", wantErr: true},
		{in: "0:101", wantErr: true},
		{in: "x:90", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePercentiles(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePercentiles(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParsePercentiles(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
