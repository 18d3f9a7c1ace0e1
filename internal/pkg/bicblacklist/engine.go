// Package bicblacklist derives a bank-level (BIC) blocklist from windowed chargeback
// statistics of past billing attempts.
package bicblacklist

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
)

// Rule fires when both thresholds are strictly exceeded
type Rule struct {
	Label    string
	MinTotal int64
	MinRate  float64
}

// Rules are evaluated in order; the first match wins
var Rules = []Rule{
	{Label: "volume_over_50_cb_rate_over_50", MinTotal: 50, MinRate: 50},
	{Label: "volume_10_plus_cb_rate_over_80", MinTotal: 9, MinRate: 80},
}

// Match returns the first rule the stats trigger
func Match(s Stats) (Rule, bool) {
	for _, rule := range Rules {
		if s.Total > rule.MinTotal && s.CBRate > rule.MinRate {
			return rule, true
		}
	}
	return Rule{}, false
}

// Decision actions
const (
	ActionAdded              = "added"
	ActionWouldAdd           = "would_add"
	ActionAlreadyBlacklisted = "already_blacklisted"
	ActionFailed             = "failed"
)

// Decision describes what happened to one triggering BIC
type Decision struct {
	Stats
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// Result is the report of one engine run. In dry-run mode Added counts would-be inserts.
type Result struct {
	Added              int        `json:"added"`
	AlreadyBlacklisted int        `json:"already_blacklisted"`
	Evaluated          int        `json:"evaluated"`
	Failed             int        `json:"failed"`
	DryRun             bool       `json:"dry_run"`
	Candidates         []Decision `json:"candidates"`
}

// Engine runs the auto-blacklist scan
type Engine struct {
	repo Repository
	cfg  config.BicBlacklistConfig
	now  func() time.Time
}

// NewEngine creates an engine with the given window and excluded reason codes
func NewEngine(repo Repository, cfg config.BicBlacklistConfig) *Engine {
	return &Engine{repo: repo, cfg: cfg, now: time.Now}
}

// WithClock replaces the engine clock
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run aggregates attempts of the trailing windowDays (config default when <= 0) and
// blacklists every BIC that triggers a rule and is not yet covered by an entry.
func (e *Engine) Run(ctx context.Context, windowDays int, dryRun bool) (Result, error) {
	if windowDays <= 0 {
		windowDays = e.cfg.WindowDays
	}
	res := Result{DryRun: dryRun}
	now := e.now().UTC()

	stats, err := e.repo.Aggregate(ctx, now.AddDate(0, 0, -windowDays), e.cfg.ExcludedReasonCodes)
	if err != nil {
		return res, fmt.Errorf("aggregate billing attempts: %w", err)
	}
	entries, err := e.repo.Entries(ctx)
	if err != nil {
		return res, fmt.Errorf("load bic blacklist: %w", err)
	}

	for _, s := range stats {
		s.Total = s.Approved + s.Chargebacked
		if s.Total == 0 {
			continue
		}
		s.CBRate = Rate(s.Chargebacked, s.Total)
		res.Evaluated++

		rule, ok := Match(s)
		if !ok {
			continue
		}
		d := Decision{Stats: s, Rule: rule.Label}

		switch {
		case covered(entries, s.BIC):
			d.Action = ActionAlreadyBlacklisted
			res.AlreadyBlacklisted++
		case dryRun:
			d.Action = ActionWouldAdd
			res.Added++
		default:
			entry := e.newEntry(s, rule, windowDays, now)
			inserted, err := e.repo.InsertIfAbsent(ctx, entry)
			switch {
			case err != nil:
				log.Errorf("[BicBlacklist] Failed to insert %s: %v", s.BIC, err)
				d.Action = ActionFailed
				d.Error = err.Error()
				res.Failed++
			case !inserted:
				d.Action = ActionAlreadyBlacklisted
				res.AlreadyBlacklisted++
			default:
				log.Infof("[BicBlacklist] Blacklisted %s (%s): total=%d cb_rate=%.2f", s.BIC, rule.Label, s.Total, s.CBRate)
				d.Action = ActionAdded
				res.Added++
				entries = append(entries, *entry)
			}
		}
		res.Candidates = append(res.Candidates, d)
	}

	log.Infof("[BicBlacklist] Run finished (window=%dd, dry_run=%t): evaluated=%d added=%d already=%d failed=%d",
		windowDays, dryRun, res.Evaluated, res.Added, res.AlreadyBlacklisted, res.Failed)
	return res, nil
}

// IsBlocked reports whether any blacklist entry covers the BIC
func (e *Engine) IsBlocked(ctx context.Context, bic string) (bool, *models.BicBlacklist, error) {
	if strings.TrimSpace(bic) == "" {
		return false, nil, nil
	}
	entries, err := e.repo.Entries(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("load bic blacklist: %w", err)
	}
	for i := range entries {
		if entries[i].Matches(bic) {
			return true, &entries[i], nil
		}
	}
	return false, nil, nil
}

func (e *Engine) newEntry(s Stats, rule Rule, windowDays int, now time.Time) *models.BicBlacklist {
	return &models.BicBlacklist{
		BIC:          strings.ToUpper(s.BIC),
		Reason:       fmt.Sprintf("auto: %d attempts, %.2f%% chargebacks in %d days", s.Total, s.CBRate, windowDays),
		Source:       models.BlacklistSourceAuto,
		AutoCriteria: rule.Label,
		StatsSnapshot: datatypes.JSONMap{
			"approved":     s.Approved,
			"chargebacked": s.Chargebacked,
			"total":        s.Total,
			"cb_rate":      s.CBRate,
			"window_days":  windowDays,
			"evaluated_at": now.Format(time.RFC3339),
		},
	}
}

// Rate returns chargebacked/total as a percentage rounded to two decimals
func Rate(chargebacked, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(chargebacked)/float64(total)*10000) / 100
}

func covered(entries []models.BicBlacklist, bic string) bool {
	for i := range entries {
		if entries[i].Matches(bic) {
			return true
		}
	}
	return false
}
