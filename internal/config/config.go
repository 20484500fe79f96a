// Package config reads the settings of the command-line tools from the
// environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/cwbudde/algo-tes/analysis"
	"github.com/cwbudde/algo-tes/stats/aggregate"
	"github.com/cwbudde/algo-tes/sweep"
)

// Config holds the environment settings. Zero values leave the analysis
// defaults in place.
type Config struct {
	Input     string
	OutputDir string
	Database  string
	LogLevel  string

	Channel   string
	NumNormal int
	NumSC     int
	RemoveBad bool

	// Transition replaces transition detection by [Start, End) of the
	// sorted sweep when set.
	Transition *sweep.Range

	Rshunt    float64
	RshuntErr float64
	BiasErr   float64
	Tc        float64
	TcErr     float64
	Tbath     float64
	TbathErr  float64
	G         float64
	GErr      float64

	Samples       int
	Percentiles   aggregate.MedianPercentile
	TauCollect    float64
	CollectionEff float64
	Seed          uint64
	Workers       int
}

// Load reads TES_* variables, after loading .env from the working
// directory if present. Variables already set in the environment win over
// the file.
func Load() *Config {
	_ = godotenv.Load()

	def := analysis.DefaultConfig()
	return &Config{
		Input:     getEnv("TES_INPUT", ""),
		OutputDir: getEnv("TES_OUTPUT_DIR", "."),
		Database:  getEnv("TES_DB", "tesiv.db"),
		LogLevel:  getEnv("TES_LOG_LEVEL", "info"),

		Channel:   getEnv("TES_CHANNEL", ""),
		NumNormal: getEnvInt("TES_NNORM", 0),
		NumSC:     getEnvInt("TES_NSC", 0),
		RemoveBad: getEnvBool("TES_REMOVE_BAD", def.RemoveBad),

		Transition: getEnvRange("TES_TRANSITION"),

		Rshunt:    getEnvFloat("TES_RSHUNT", def.Rshunt),
		RshuntErr: getEnvFloat("TES_RSHUNT_ERR", def.RshuntErr),
		BiasErr:   getEnvFloat("TES_IBIAS_ERR", 0),
		Tc:        getEnvFloat("TES_TC", 0),
		TcErr:     getEnvFloat("TES_TC_ERR", 0),
		Tbath:     getEnvFloat("TES_TBATH", 0),
		TbathErr:  getEnvFloat("TES_TBATH_ERR", 0),
		G:         getEnvFloat("TES_G", 0),
		GErr:      getEnvFloat("TES_G_ERR", 0),

		Samples:       getEnvInt("TES_SAMPLES", def.Samples),
		Percentiles:   getEnvPercentiles("TES_PERCENTILES", def.Percentiles),
		TauCollect:    getEnvFloat("TES_TAU_COLLECT", def.TauCollect),
		CollectionEff: getEnvFloat("TES_COLLECTION_EFF", def.CollectionEff),
		Seed:          uint64(getEnvInt("TES_SEED", 0)),
		Workers:       getEnvInt("TES_WORKERS", 0),
	}
}

// Options converts c into analysis options.
func (c *Config) Options() []analysis.Option {
	opts := []analysis.Option{
		analysis.WithChannel(c.Channel),
		analysis.WithRegionCounts(c.NumNormal, c.NumSC),
		analysis.WithBadSeriesRemoval(c.RemoveBad),
		analysis.WithShunt(c.Rshunt, c.RshuntErr),
		analysis.WithBiasErr(c.BiasErr),
		analysis.WithCriticalTemp(c.Tc, c.TcErr),
		analysis.WithBath(c.Tbath, c.TbathErr),
		analysis.WithConductance(c.G, c.GErr),
		analysis.WithSamples(c.Samples),
		analysis.WithCollection(c.TauCollect, c.CollectionEff),
		analysis.WithSeed(c.Seed),
		analysis.WithWorkers(c.Workers),
		analysis.WithOutputDir(c.OutputDir),
		analysis.WithPercentiles(c.Percentiles.Lower, c.Percentiles.Upper),
	}
	if c.Transition != nil {
		opts = append(opts, analysis.WithTransitionRange(c.Transition.Start, c.Transition.End))
	}
	return opts
}

// ParseRange parses "start:end", a half-open index range of the sorted
// sweep.
func ParseRange(s string) (sweep.Range, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return sweep.Range{}, fmt.Errorf("config: range %q: want start:end", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return sweep.Range{}, fmt.Errorf("config: range %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return sweep.Range{}, fmt.Errorf("config: range %q: %w", s, err)
	}
	if start < 0 || end <= start {
		return sweep.Range{}, fmt.Errorf("config: range %q: want 0 <= start < end", s)
	}
	return sweep.Range{Start: start, End: end}, nil
}

// ParsePercentiles parses "lower:upper" in percent.
func ParsePercentiles(s string) (aggregate.MedianPercentile, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return aggregate.MedianPercentile{}, fmt.Errorf("config: percentiles %q: want lower:upper", s)
	}
	lower, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return aggregate.MedianPercentile{}, fmt.Errorf("config: percentiles %q: %w", s, err)
	}
	upper, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return aggregate.MedianPercentile{}, fmt.Errorf("config: percentiles %q: %w", s, err)
	}
	p := aggregate.MedianPercentile{Lower: lower, Upper: upper}
	if err := p.Validate(); err != nil {
		return aggregate.MedianPercentile{}, err
	}
	return p, nil
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("failed to parse float, using default", "key", key, "error", err)
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("failed to parse int, using default", "key", key, "error", err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("failed to parse bool, using default", "key", key, "error", err)
		return defaultValue
	}
	return boolValue
}

func getEnvRange(key string) *sweep.Range {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	r, err := ParseRange(value)
	if err != nil {
		slog.Warn("failed to parse range, keeping detection", "key", key, "error", err)
		return nil
	}
	return &r
}

func getEnvPercentiles(key string, defaultValue aggregate.MedianPercentile) aggregate.MedianPercentile {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	p, err := ParsePercentiles(value)
	if err != nil {
		slog.Warn("failed to parse percentiles, using default", "key", key, "error", err)
		return defaultValue
	}
	return p
}
