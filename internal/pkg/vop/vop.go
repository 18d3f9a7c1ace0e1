// Package vop scores how likely a debtor's IBAN belongs to a real, collectible account
// (verification of payee) and keeps an append-only log of every scoring run.
package vop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
)

// NameMatch is the payee-name signal reported by an account verifier
type NameMatch string

const (
	NameMatchYes         NameMatch = "yes"
	NameMatchPartial     NameMatch = "partial"
	NameMatchNo          NameMatch = "no"
	NameMatchUnavailable NameMatch = "unavailable"
)

// AccountCheck is the answer of an external bank-account verification
type AccountCheck struct {
	Valid     bool
	NameMatch NameMatch
	BIC       string
}

// AccountVerifier checks that an account exists and is held by the given name
type AccountVerifier interface {
	Verify(ctx context.Context, iban, name string) (AccountCheck, error)
}

// Breakdown holds the points awarded per structural dimension
type Breakdown struct {
	IBANValid        int `json:"iban_valid"`
	BankIdentified   int `json:"bank_identified"`
	SepaSupported    int `json:"sepa_supported"`
	CountrySupported int `json:"country_supported"`
}

// Total returns the structural score
func (b Breakdown) Total() int {
	return b.IBANValid + b.BankIdentified + b.SepaSupported + b.CountrySupported
}

// Map converts the breakdown for JSON storage
func (b Breakdown) Map() datatypes.JSONMap {
	return datatypes.JSONMap{
		"iban_valid":        b.IBANValid,
		"bank_identified":   b.BankIdentified,
		"sepa_supported":    b.SepaSupported,
		"country_supported": b.CountrySupported,
	}
}

// Calculation is the side-effect free outcome of scoring a debtor
type Calculation struct {
	Score         int
	Result        models.VerificationResult
	Breakdown     Breakdown
	NameMatch     NameMatch
	Validation    iban.Result
	Bank          iban.Bank
	BankFound     bool
	VerifierError string
}

// Scorer computes and logs payee verifications
type Scorer struct {
	cfg       config.VopConfig
	validator iban.Validator
	verifier  AccountVerifier
	repo      Repository
	countries map[string]struct{}
	now       func() time.Time
}

// NewScorer creates a scorer. verifier may be nil, in which case the name-match
// signal is always unavailable.
func NewScorer(cfg config.VopConfig, validator iban.Validator, verifier AccountVerifier, repo Repository) *Scorer {
	if validator == nil {
		validator = iban.NewValidator()
	}
	countries := make(map[string]struct{}, len(cfg.SupportedCountries))
	for _, c := range cfg.SupportedCountries {
		countries[strings.ToUpper(c)] = struct{}{}
	}
	return &Scorer{
		cfg:       cfg,
		validator: validator,
		verifier:  verifier,
		repo:      repo,
		countries: countries,
		now:       time.Now,
	}
}

// WithClock replaces the scorer clock
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Calculate scores a debtor without persisting anything
func (s *Scorer) Calculate(ctx context.Context, debtor *models.Debtor) Calculation {
	res := s.validator.Validate(debtor.IBAN)
	calc := Calculation{Validation: res, NameMatch: NameMatchUnavailable}
	if !res.Valid {
		calc.Result = models.VerificationResultRejected
		return calc
	}

	w := s.cfg.Weights
	calc.Breakdown.IBANValid = w.IBANValid

	calc.Bank, calc.BankFound = iban.LookupBank(res.CountryCode, res.BankID)
	if calc.BankFound {
		calc.Breakdown.BankIdentified = w.BankIdentified
	}
	sepa := iban.IsSepa(res.CountryCode)
	if calc.BankFound {
		sepa = calc.Bank.SupportsSDD
	}
	if sepa {
		calc.Breakdown.SepaSupported = w.SepaSupported
	}
	if _, ok := s.countries[res.CountryCode]; ok {
		calc.Breakdown.CountrySupported = w.CountrySupported
	}

	if s.verifier != nil {
		check, err := s.verifier.Verify(ctx, res.IBAN, debtor.FullName())
		switch {
		case err != nil:
			log.Warnf("[Vop] Account verifier failed for debtor %d: %v", debtor.ID, err)
			calc.VerifierError = err.Error()
		case !check.Valid:
			calc.NameMatch = NameMatchNo
		default:
			calc.NameMatch = check.NameMatch
		}
		if err == nil && check.BIC != "" && calc.Bank.BIC == "" {
			calc.Bank.BIC = check.BIC
		}
	}

	score := calc.Breakdown.Total()
	switch calc.NameMatch {
	case NameMatchYes:
		// a confirmed holder name outranks the structural dimensions
		score = max(score, s.cfg.Bands.Verified)
	case NameMatchPartial:
		score = min(score, s.cfg.PartialScoreCap)
	case NameMatchNo:
		calc.Score = min(score, s.cfg.NoMatchScoreCap)
		calc.Result = models.VerificationResultRejected
		return calc
	}
	calc.Score = score
	calc.Result = s.classify(score)
	return calc
}

func (s *Scorer) classify(score int) models.VerificationResult {
	b := s.cfg.Bands
	switch {
	case score >= b.Verified:
		return models.VerificationResultVerified
	case score >= b.LikelyVerified:
		return models.VerificationResultLikelyVerified
	case score >= b.Inconclusive:
		return models.VerificationResultInconclusive
	case score >= b.Mismatch:
		return models.VerificationResultMismatch
	default:
		return models.VerificationResultRejected
	}
}

// Score returns a fresh cached record for the debtor's IBAN when one exists (cached=true),
// otherwise calculates and persists exactly one new record.
func (s *Scorer) Score(ctx context.Context, debtor *models.Debtor, forceRefresh bool) (*models.PayeeVerification, bool, error) {
	hash := iban.Hash(debtor.IBAN)
	now := s.now().UTC()

	if !forceRefresh && s.cfg.CacheTTL > 0 {
		cached, err := s.repo.LatestForHash(ctx, hash, now.Add(-s.cfg.CacheTTL))
		if err != nil {
			return nil, false, fmt.Errorf("verification cache lookup: %w", err)
		}
		if cached != nil {
			return cached, true, nil
		}
	}

	calc := s.Calculate(ctx, debtor)
	meta := datatypes.JSONMap{
		"force_refresh": forceRefresh,
		"verifier":      s.verifier != nil,
	}
	if len(calc.Validation.Errors) > 0 {
		meta["validation_errors"] = calc.Validation.Errors
	}
	if calc.VerifierError != "" {
		meta["verifier_error"] = calc.VerifierError
	}

	record := &models.PayeeVerification{
		DebtorID:   debtor.ID,
		IBANHash:   hash,
		IBANMasked: iban.Mask(debtor.IBAN),
		Score:      calc.Score,
		Result:     calc.Result,
		BankName:   calc.Bank.Name,
		BIC:        calc.Bank.BIC,
		Country:    calc.Validation.CountryCode,
		NameMatch:  string(calc.NameMatch),
		Breakdown:  calc.Breakdown.Map(),
		Meta:       meta,
		CreatedAt:  now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, false, fmt.Errorf("persist verification: %w", err)
	}

	log.Debugf("[Vop] Debtor %d scored %d (%s)", debtor.ID, calc.Score, calc.Result)
	return record, false, nil
}
