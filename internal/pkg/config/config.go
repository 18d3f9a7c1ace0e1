// Package config holds the explicit configuration value objects threaded into each
// pipeline engine. Nothing here is read from process-wide state at call sites.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/WebOleg/sepacollect/internal/pkg/env"
)

// Job kinds used as chunk-size keys
const (
	JobKindValidation   = "validation"
	JobKindVerification = "verification"
	JobKindBilling      = "billing"
)

// Config is the full pipeline configuration
type Config struct {
	Dedupe       DedupeConfig
	Vop          VopConfig
	Dispatch     DispatchConfig
	BicBlacklist BicBlacklistConfig
	Scheduler    SchedulerConfig
	Queue        QueueConfig
}

// DedupeConfig configures the deduplication engine
type DedupeConfig struct {
	RecentAttemptDays int `validate:"gte=1,lte=365"`
}

// ScoreWeights are the points each structural dimension contributes; they sum to 100
type ScoreWeights struct {
	IBANValid        int `validate:"gte=0,lte=100"`
	BankIdentified   int `validate:"gte=0,lte=100"`
	SepaSupported    int `validate:"gte=0,lte=100"`
	CountrySupported int `validate:"gte=0,lte=100"`
}

// Total returns the sum of all weights
func (w ScoreWeights) Total() int {
	return w.IBANValid + w.BankIdentified + w.SepaSupported + w.CountrySupported
}

// ScoreBands are the minimum scores of each classification band, highest first.
// Anything below Mismatch is rejected.
type ScoreBands struct {
	Verified       int `validate:"gte=1,lte=100"`
	LikelyVerified int `validate:"gte=1,lte=100"`
	Inconclusive   int `validate:"gte=1,lte=100"`
	Mismatch       int `validate:"gte=1,lte=100"`
}

// VopConfig configures the payee-verification scorer
type VopConfig struct {
	Weights            ScoreWeights
	Bands              ScoreBands
	PartialScoreCap    int           `validate:"gte=0,lte=100"`
	NoMatchScoreCap    int           `validate:"gte=0,lte=100"`
	SupportedCountries []string      `validate:"dive,len=2"`
	CacheTTL           time.Duration `validate:"gte=0"`
}

// DispatchConfig configures the billing dispatch orchestrator
type DispatchConfig struct {
	ChunkSizes       map[string]int `validate:"dive,gte=1"`
	DefaultChunkSize int            `validate:"gte=1"`
	LockTTL          time.Duration  `validate:"gte=1000000000"`
}

// ChunkSize returns the configured chunk size for a job kind, falling back to the default
func (d DispatchConfig) ChunkSize(kind string) int {
	if size, ok := d.ChunkSizes[kind]; ok && size > 0 {
		return size
	}
	if d.DefaultChunkSize > 0 {
		return d.DefaultChunkSize
	}
	return 100
}

// BicBlacklistConfig configures the BIC auto-blacklist engine
type BicBlacklistConfig struct {
	WindowDays          int `validate:"gte=1,lte=3650"`
	ExcludedReasonCodes []string
}

// SchedulerConfig holds cron specs for the periodic runs
type SchedulerConfig struct {
	Enabled          bool
	DispatchSpec     string `validate:"required"`
	BicBlacklistSpec string `validate:"required"`
}

// QueueConfig configures the worker pool and ops listener
type QueueConfig struct {
	Workers int    `validate:"gte=1,lte=256"`
	OpsAddr string `validate:"required"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Dedupe: DedupeConfig{RecentAttemptDays: 30},
		Vop: VopConfig{
			Weights: ScoreWeights{IBANValid: 40, BankIdentified: 20, SepaSupported: 20, CountrySupported: 20},
			Bands:   ScoreBands{Verified: 85, LikelyVerified: 70, Inconclusive: 50, Mismatch: 1},
			// partial name match lands in the likely_verified band
			PartialScoreCap: 70,
			NoMatchScoreCap: 20,
			SupportedCountries: []string{
				"AT", "BE", "DE", "ES", "FI", "FR", "IE", "IT", "LU", "NL", "PT",
			},
			CacheTTL: 30 * 24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			ChunkSizes: map[string]int{
				JobKindValidation:   100,
				JobKindVerification: 50,
				JobKindBilling:      50,
			},
			DefaultChunkSize: 100,
			LockTTL:          1800 * time.Second,
		},
		BicBlacklist: BicBlacklistConfig{WindowDays: 30},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			DispatchSpec:     "@every 15m",
			BicBlacklistSpec: "0 3 * * *",
		},
		Queue: QueueConfig{Workers: 5, OpsAddr: "127.0.0.1:4100"},
	}
}

// Load builds the configuration from the environment on top of Default
func Load() (Config, error) {
	cfg := Default()

	cfg.Dedupe.RecentAttemptDays = env.GetEnvInt("DEDUPE_WINDOW_DAYS", cfg.Dedupe.RecentAttemptDays)

	w := &cfg.Vop.Weights
	w.IBANValid = env.GetEnvInt("VOP_WEIGHT_IBAN_VALID", w.IBANValid)
	w.BankIdentified = env.GetEnvInt("VOP_WEIGHT_BANK_IDENTIFIED", w.BankIdentified)
	w.SepaSupported = env.GetEnvInt("VOP_WEIGHT_SEPA_SUPPORTED", w.SepaSupported)
	w.CountrySupported = env.GetEnvInt("VOP_WEIGHT_COUNTRY_SUPPORTED", w.CountrySupported)

	b := &cfg.Vop.Bands
	b.Verified = env.GetEnvInt("VOP_BAND_VERIFIED", b.Verified)
	b.LikelyVerified = env.GetEnvInt("VOP_BAND_LIKELY_VERIFIED", b.LikelyVerified)
	b.Inconclusive = env.GetEnvInt("VOP_BAND_INCONCLUSIVE", b.Inconclusive)
	b.Mismatch = env.GetEnvInt("VOP_BAND_MISMATCH", b.Mismatch)

	cfg.Vop.PartialScoreCap = env.GetEnvInt("VOP_PARTIAL_SCORE_CAP", cfg.Vop.PartialScoreCap)
	cfg.Vop.NoMatchScoreCap = env.GetEnvInt("VOP_NO_MATCH_SCORE_CAP", cfg.Vop.NoMatchScoreCap)
	cfg.Vop.SupportedCountries = upper(env.GetEnvList("VOP_SUPPORTED_COUNTRIES", cfg.Vop.SupportedCountries))
	cfg.Vop.CacheTTL = time.Duration(env.GetEnvInt("VOP_CACHE_TTL_HOURS", int(cfg.Vop.CacheTTL/time.Hour))) * time.Hour

	for kind := range cfg.Dispatch.ChunkSizes {
		key := "DISPATCH_CHUNK_" + strings.ToUpper(kind)
		cfg.Dispatch.ChunkSizes[kind] = env.GetEnvInt(key, cfg.Dispatch.ChunkSizes[kind])
	}
	cfg.Dispatch.DefaultChunkSize = env.GetEnvInt("DISPATCH_CHUNK_DEFAULT", cfg.Dispatch.DefaultChunkSize)
	cfg.Dispatch.LockTTL = time.Duration(env.GetEnvInt("DISPATCH_LOCK_TTL", int(cfg.Dispatch.LockTTL/time.Second))) * time.Second

	cfg.BicBlacklist.WindowDays = env.GetEnvInt("BIC_BLACKLIST_WINDOW_DAYS", cfg.BicBlacklist.WindowDays)
	cfg.BicBlacklist.ExcludedReasonCodes = upper(env.GetEnvList("BIC_BLACKLIST_EXCLUDED_CODES", nil))

	cfg.Scheduler.Enabled = env.GetEnv("SCHEDULER_ENABLED", "true") == "true"
	cfg.Scheduler.DispatchSpec = env.GetEnv("SCHEDULE_DISPATCH", cfg.Scheduler.DispatchSpec)
	cfg.Scheduler.BicBlacklistSpec = env.GetEnv("SCHEDULE_BIC_BLACKLIST", cfg.Scheduler.BicBlacklistSpec)

	cfg.Queue.Workers = env.GetEnvInt("JOBQUEUE_WORKERS", cfg.Queue.Workers)
	cfg.Queue.OpsAddr = env.GetEnv("OPS_ADDR", cfg.Queue.OpsAddr)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and the cross-field constraints on weights and bands
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if total := c.Vop.Weights.Total(); total != 100 {
		return fmt.Errorf("vop weights must sum to 100, got %d", total)
	}
	b := c.Vop.Bands
	if !(b.Verified > b.LikelyVerified && b.LikelyVerified > b.Inconclusive && b.Inconclusive > b.Mismatch) {
		return errors.New("vop bands must be strictly descending: verified > likely_verified > inconclusive > mismatch")
	}
	return nil
}

func upper(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToUpper(v))
	}
	return out
}
