package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from environment variables or .env file.
//
// It is composed of smaller structs that represent different concerns of the system:
// server settings, Postgres connection details, matching weights and thresholds,
// classifier severity buckets, and workflow/SLA policy.
//
// Example YAML/ENV equivalent:
//
//	SERVER_PORT=8080
//	POSTGRES_HOST=localhost
//	MATCH_THRESHOLD=0.95
//	REVIEW_THRESHOLD=0.75
//	SLA_CRITICAL_MINUTES=30
type Config struct {
	Server   ServerConfig   // HTTP server configuration
	Postgres PostgresConfig // PostgreSQL connection settings
	Matching MatchingConfig // Matcher weights, tolerances and thresholds
	Classify ClassifyConfig // Severity bucketing for break classification
	Workflow WorkflowConfig // SLA durations, sweep interval, auto-remediation policy
}

// ServerConfig holds HTTP server settings such as the port to listen on.
type ServerConfig struct {
	Port string // The TCP port the HTTP server will listen on (e.g., "8080")
}

// PostgresConfig defines connection details for PostgreSQL.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string // computed DSN used by database/sql to connect
}

// MatchingConfig drives the weighted fuzzy matcher.
//
// Weights apply after the symbol/side gate and are renormalized over their
// sum, so they only need to be meaningful relative to each other.
type MatchingConfig struct {
	SymbolWeight   float64
	PriceWeight    float64
	QuantityWeight float64
	DateWeight     float64

	// PriceToleranceBps is the price deviation, in basis points, inside
	// which the price field still scores 1.0.
	PriceToleranceBps float64
	// QuantityTolerancePct is the quantity deviation percentage treated as
	// an exact match (0 means quantities must be equal to score 1.0).
	QuantityTolerancePct float64

	// MatchThreshold and ReviewThreshold define the three score bands:
	// >= MatchThreshold is a full match, [ReviewThreshold, MatchThreshold)
	// is a low-confidence match, below ReviewThreshold falls back to
	// unmatched.
	MatchThreshold  float64
	ReviewThreshold float64

	// MaxParallel bounds the candidate-scoring worker fan-out (0 = NumCPU).
	MaxParallel int
}

// ClassifyConfig buckets missing-counterpart breaks by absolute notional.
// A break is Critical at or above NotionalCritical, High at or above
// NotionalHigh, Medium at or above NotionalMedium, otherwise Low.
type ClassifyConfig struct {
	NotionalMedium   float64
	NotionalHigh     float64
	NotionalCritical float64
}

// WorkflowConfig holds SLA tier durations, the sweep interval and the
// auto-remediation policy.
type WorkflowConfig struct {
	SLACritical time.Duration
	SLAHigh     time.Duration
	SLAMedium   time.Duration
	SLALow      time.Duration

	SweepInterval time.Duration

	// AutoRemediateMaxBps is the strict deviation ceiling for automatic
	// resolution; it must be tighter than the review threshold band.
	AutoRemediateMaxBps float64
	// AutoRemediateCategories whitelists break categories eligible for
	// automatic resolution.
	AutoRemediateCategories []string
}

// AppConfig is the globally accessible configuration instance.
//
// It is populated once via LoadConfig() and used throughout the application.
var AppConfig Config

// LoadConfig initializes the global AppConfig by reading from .env file
// or directly from environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in this function.
//  2. Values from .env file (if present).
//  3. Environment variables.
func LoadConfig() {
	// Default values
	viper.SetDefault("SERVER_PORT", "8080")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "reconpulse")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")

	viper.SetDefault("SYMBOL_WEIGHT", 0.30)
	viper.SetDefault("PRICE_WEIGHT", 0.25)
	viper.SetDefault("QUANTITY_WEIGHT", 0.25)
	viper.SetDefault("DATE_WEIGHT", 0.20)
	viper.SetDefault("PRICE_TOLERANCE_BPS", 100.0)
	viper.SetDefault("QUANTITY_TOLERANCE_PCT", 0.0)
	viper.SetDefault("MATCH_THRESHOLD", 0.95)
	viper.SetDefault("REVIEW_THRESHOLD", 0.75)
	viper.SetDefault("MATCH_MAX_PARALLEL", 0)

	viper.SetDefault("NOTIONAL_MEDIUM", 10000.0)
	viper.SetDefault("NOTIONAL_HIGH", 100000.0)
	viper.SetDefault("NOTIONAL_CRITICAL", 1000000.0)

	viper.SetDefault("SLA_CRITICAL_MINUTES", 30)
	viper.SetDefault("SLA_HIGH_MINUTES", 120)
	viper.SetDefault("SLA_MEDIUM_MINUTES", 480)
	viper.SetDefault("SLA_LOW_MINUTES", 480)
	viper.SetDefault("SWEEP_INTERVAL_MINUTES", 15)
	viper.SetDefault("AUTO_REMEDIATE_MAX_BPS", 10.0)
	viper.SetDefault("AUTO_REMEDIATE_CATEGORIES", []string{"price_mismatch"})

	// Optionally read from .env if present (common in local dev)
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig() // ignore error if no .env

	// Read environment variables automatically
	viper.AutomaticEnv()

	// Populate global config instance
	AppConfig = Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		},
		Matching: MatchingConfig{
			SymbolWeight:         viper.GetFloat64("SYMBOL_WEIGHT"),
			PriceWeight:          viper.GetFloat64("PRICE_WEIGHT"),
			QuantityWeight:       viper.GetFloat64("QUANTITY_WEIGHT"),
			DateWeight:           viper.GetFloat64("DATE_WEIGHT"),
			PriceToleranceBps:    viper.GetFloat64("PRICE_TOLERANCE_BPS"),
			QuantityTolerancePct: viper.GetFloat64("QUANTITY_TOLERANCE_PCT"),
			MatchThreshold:       viper.GetFloat64("MATCH_THRESHOLD"),
			ReviewThreshold:      viper.GetFloat64("REVIEW_THRESHOLD"),
			MaxParallel:          viper.GetInt("MATCH_MAX_PARALLEL"),
		},
		Classify: ClassifyConfig{
			NotionalMedium:   viper.GetFloat64("NOTIONAL_MEDIUM"),
			NotionalHigh:     viper.GetFloat64("NOTIONAL_HIGH"),
			NotionalCritical: viper.GetFloat64("NOTIONAL_CRITICAL"),
		},
		Workflow: WorkflowConfig{
			SLACritical:             time.Duration(viper.GetInt("SLA_CRITICAL_MINUTES")) * time.Minute,
			SLAHigh:                 time.Duration(viper.GetInt("SLA_HIGH_MINUTES")) * time.Minute,
			SLAMedium:               time.Duration(viper.GetInt("SLA_MEDIUM_MINUTES")) * time.Minute,
			SLALow:                  time.Duration(viper.GetInt("SLA_LOW_MINUTES")) * time.Minute,
			SweepInterval:           time.Duration(viper.GetInt("SWEEP_INTERVAL_MINUTES")) * time.Minute,
			AutoRemediateMaxBps:     viper.GetFloat64("AUTO_REMEDIATE_MAX_BPS"),
			AutoRemediateCategories: viper.GetStringSlice("AUTO_REMEDIATE_CATEGORIES"),
		},
	}

	// Construct Postgres DSN (used by database/sql)
	AppConfig.Postgres.URL = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		AppConfig.Postgres.User,
		AppConfig.Postgres.Password,
		AppConfig.Postgres.Host,
		AppConfig.Postgres.Port,
		AppConfig.Postgres.DBName,
		AppConfig.Postgres.SSLMode,
	)

	// Validate critical fields
	validateConfig()
}

// validateConfig ensures required variables are present and coherent, and
// terminates the application if they are not.
func validateConfig() {
	var bad []string

	if AppConfig.Server.Port == "" {
		bad = append(bad, "SERVER_PORT")
	}
	if AppConfig.Postgres.Host == "" {
		bad = append(bad, "POSTGRES_HOST")
	}
	if AppConfig.Postgres.Port == 0 {
		bad = append(bad, "POSTGRES_PORT")
	}
	if AppConfig.Postgres.User == "" {
		bad = append(bad, "POSTGRES_USER")
	}
	if AppConfig.Postgres.DBName == "" {
		bad = append(bad, "POSTGRES_DB")
	}

	m := AppConfig.Matching
	if m.SymbolWeight+m.PriceWeight+m.QuantityWeight+m.DateWeight <= 0 {
		bad = append(bad, "match weights (must sum > 0)")
	}
	if m.MatchThreshold <= m.ReviewThreshold {
		bad = append(bad, "MATCH_THRESHOLD (must exceed REVIEW_THRESHOLD)")
	}
	if m.ReviewThreshold <= 0 || m.MatchThreshold > 1 {
		bad = append(bad, "thresholds (must lie in (0,1])")
	}

	c := AppConfig.Classify
	if !(c.NotionalMedium < c.NotionalHigh && c.NotionalHigh < c.NotionalCritical) {
		bad = append(bad, "notional thresholds (must be strictly increasing)")
	}

	if AppConfig.Workflow.SweepInterval <= 0 {
		bad = append(bad, "SWEEP_INTERVAL_MINUTES")
	}

	if len(bad) > 0 {
		log.Fatalf("invalid configuration: %v\n", bad)
	}
}
