// Package dedupe decides whether an IBAN is currently barred from billing and why.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
	"github.com/WebOleg/sepacollect/internal/pkg/textnorm"
)

// Reason classifies why a debtor is skipped
type Reason string

const (
	ReasonBlacklisted       Reason = "blacklisted"
	ReasonChargebacked      Reason = "chargebacked"
	ReasonAlreadyRecovered  Reason = "already_recovered"
	ReasonRecentlyAttempted Reason = "recently_attempted"
	ReasonBlacklistedEmail  Reason = "blacklisted_email"
	ReasonBlacklistedName   Reason = "blacklisted_name"
)

// Skip is a non-eligibility outcome. It is a value, not an error.
type Skip struct {
	Reason        Reason     `json:"reason"`
	Permanent     bool       `json:"permanent"`
	DaysAgo       int        `json:"days_ago,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// Engine evaluates the dedupe checks in priority order
type Engine struct {
	repo       Repository
	windowDays int
	now        func() time.Time
}

// NewEngine creates an engine using the configured recent-attempt window
func NewEngine(repo Repository, cfg config.DedupeConfig) *Engine {
	days := cfg.RecentAttemptDays
	if days <= 0 {
		days = 30
	}
	return &Engine{repo: repo, windowDays: days, now: time.Now}
}

// WithClock replaces the engine clock
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CheckIban evaluates a raw IBAN. Debtors of excludeUploadID do not count as recovered,
// so re-validating inside the same import is allowed.
func (e *Engine) CheckIban(ctx context.Context, raw string, excludeUploadID *uint) (*Skip, error) {
	hash := iban.Hash(raw)
	skips, err := e.evaluate(ctx, []string{hash}, excludeUploadID)
	if err != nil {
		return nil, err
	}
	if skip, ok := skips[hash]; ok {
		return &skip, nil
	}
	return nil, nil
}

// CheckBatch evaluates many hashes with one query per check and returns only the skipped ones
func (e *Engine) CheckBatch(ctx context.Context, ibanHashes []string) (map[string]Skip, error) {
	return e.evaluate(ctx, ibanHashes, nil)
}

// CheckIdentity matches the general blacklist by e-mail or by the normalised name pair
func (e *Engine) CheckIdentity(ctx context.Context, email, firstName, lastName string) (*Skip, error) {
	if email = textnorm.Email(email); email != "" {
		hit, err := e.repo.EmailBlacklisted(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("email blacklist lookup: %w", err)
		}
		if hit {
			return &Skip{Reason: ReasonBlacklistedEmail, Permanent: true}, nil
		}
	}

	first, last := textnorm.Name(firstName), textnorm.Name(lastName)
	if first == "" || last == "" {
		return nil, nil
	}
	hit, err := e.repo.NameBlacklisted(ctx, first, last)
	if err != nil {
		return nil, fmt.Errorf("name blacklist lookup: %w", err)
	}
	if hit {
		return &Skip{Reason: ReasonBlacklistedName, Permanent: true}, nil
	}
	return nil, nil
}

func (e *Engine) evaluate(ctx context.Context, hashes []string, excludeUploadID *uint) (map[string]Skip, error) {
	out := make(map[string]Skip)
	remaining := unique(hashes)
	if len(remaining) == 0 {
		return out, nil
	}

	permanent := []struct {
		reason Reason
		lookup func([]string) ([]string, error)
	}{
		{ReasonBlacklisted, func(h []string) ([]string, error) { return e.repo.BlacklistedHashes(ctx, h) }},
		{ReasonChargebacked, func(h []string) ([]string, error) { return e.repo.ChargebackedHashes(ctx, h) }},
		{ReasonAlreadyRecovered, func(h []string) ([]string, error) { return e.repo.RecoveredHashes(ctx, h, excludeUploadID) }},
	}
	for _, check := range permanent {
		if len(remaining) == 0 {
			return out, nil
		}
		hits, err := check.lookup(remaining)
		if err != nil {
			return nil, fmt.Errorf("%s lookup: %w", check.reason, err)
		}
		for _, h := range hits {
			out[h] = Skip{Reason: check.reason, Permanent: true}
		}
		remaining = without(remaining, out)
	}
	if len(remaining) == 0 {
		return out, nil
	}

	now := e.now().UTC()
	last, err := e.repo.LastAttempts(ctx, remaining, now.AddDate(0, 0, -e.windowDays))
	if err != nil {
		return nil, fmt.Errorf("%s lookup: %w", ReasonRecentlyAttempted, err)
	}
	for h, at := range last {
		at := at
		out[h] = Skip{
			Reason:        ReasonRecentlyAttempted,
			DaysAgo:       int(now.Sub(at).Hours() / 24),
			LastAttemptAt: &at,
		}
	}
	return out, nil
}

func unique(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func without(hashes []string, decided map[string]Skip) []string {
	out := hashes[:0:0]
	for _, h := range hashes {
		if _, ok := decided[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}
