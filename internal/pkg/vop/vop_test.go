package vop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/app/models"
	"github.com/WebOleg/sepacollect/internal/pkg/config"
	"github.com/WebOleg/sepacollect/internal/pkg/database/dbtest"
	"github.com/WebOleg/sepacollect/internal/pkg/iban"
)

type fakeVerifier struct {
	check AccountCheck
	err   error
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, _, _ string) (AccountCheck, error) {
	f.calls++
	return f.check, f.err
}

func newScorer(db *gorm.DB, verifier AccountVerifier) *Scorer {
	return NewScorer(config.Default().Vop, iban.NewValidator(), verifier, NewRepository(db))
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.PayeeVerification{}).Count(&n).Error)
	return n
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name      string
		iban      string
		verifier  *fakeVerifier
		score     int
		result    models.VerificationResult
		nameMatch NameMatch
	}{
		{
			name:      "fully valid german iban with name match",
			iban:      "DE89370400440532013000",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchYes}},
			score:     100,
			result:    models.VerificationResultVerified,
			nameMatch: NameMatchYes,
		},
		{
			name:      "no verifier uses structural score",
			iban:      "DE89 3704 0044 0532 0130 00",
			score:     100,
			result:    models.VerificationResultVerified,
			nameMatch: NameMatchUnavailable,
		},
		{
			name:      "bad checksum",
			iban:      "DE88370400440532013000",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchYes}},
			score:     0,
			result:    models.VerificationResultRejected,
			nameMatch: NameMatchUnavailable,
		},
		{
			name:      "partial name match is capped",
			iban:      "DE89370400440532013000",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchPartial}},
			score:     70,
			result:    models.VerificationResultLikelyVerified,
			nameMatch: NameMatchPartial,
		},
		{
			name:      "name mismatch is rejected",
			iban:      "DE89370400440532013000",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchNo}},
			score:     20,
			result:    models.VerificationResultRejected,
			nameMatch: NameMatchNo,
		},
		{
			name:      "closed account counts as mismatch",
			iban:      "DE89370400440532013000",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: false}},
			score:     20,
			result:    models.VerificationResultRejected,
			nameMatch: NameMatchNo,
		},
		{
			name:      "verifier error falls back to structural score",
			iban:      "DE89370400440532013000",
			verifier:  &fakeVerifier{err: errors.New("timeout")},
			score:     100,
			result:    models.VerificationResultVerified,
			nameMatch: NameMatchUnavailable,
		},
		{
			name:      "unknown bank in sepa country",
			iban:      "DE97999999990000012345",
			score:     80,
			result:    models.VerificationResultLikelyVerified,
			nameMatch: NameMatchUnavailable,
		},
		{
			name:      "known bank without direct debit support",
			iban:      "DE96110101010000012345",
			score:     80,
			result:    models.VerificationResultLikelyVerified,
			nameMatch: NameMatchUnavailable,
		},
		{
			name:      "name match lifts unknown bank into verified band",
			iban:      "DE97999999990000012345",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchYes}},
			score:     85,
			result:    models.VerificationResultVerified,
			nameMatch: NameMatchYes,
		},
		{
			name:      "name match lifts unsupported country into verified band",
			iban:      "GB29NWBK60161331926819",
			verifier:  &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchYes}},
			score:     85,
			result:    models.VerificationResultVerified,
			nameMatch: NameMatchYes,
		},
		{
			name:      "unsupported country",
			iban:      "GB29NWBK60161331926819",
			score:     60,
			result:    models.VerificationResultInconclusive,
			nameMatch: NameMatchUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v AccountVerifier
			if tt.verifier != nil {
				v = tt.verifier
			}
			s := NewScorer(config.Default().Vop, iban.NewValidator(), v, nil)
			calc := s.Calculate(context.Background(), &models.Debtor{FirstName: "Max", LastName: "Mustermann", IBAN: tt.iban})

			assert.Equal(t, tt.score, calc.Score)
			assert.Equal(t, tt.result, calc.Result)
			assert.Equal(t, tt.nameMatch, calc.NameMatch)
		})
	}
}

func TestCalculateBadChecksumSkipsVerifier(t *testing.T) {
	v := &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchYes}}
	s := NewScorer(config.Default().Vop, nil, v, nil)

	calc := s.Calculate(context.Background(), &models.Debtor{IBAN: "DE88370400440532013000"})
	assert.Equal(t, 0, calc.Breakdown.Total())
	assert.Contains(t, calc.Validation.Errors, iban.ErrInvalidChecksum)
	assert.Zero(t, v.calls)
}

func TestCalculateIsPure(t *testing.T) {
	db := dbtest.Open(t)
	s := newScorer(db, nil)
	d := &models.Debtor{ID: 1, FirstName: "Max", LastName: "Mustermann", IBAN: "NL91ABNA0417164300"}

	first := s.Calculate(context.Background(), d)
	second := s.Calculate(context.Background(), d)

	assert.Equal(t, first, second)
	assert.Zero(t, countRecords(t, db))
}

func TestScorePersistsAndCaches(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	s := newScorer(db, &fakeVerifier{check: AccountCheck{Valid: true, NameMatch: NameMatchYes}}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()
	d := &models.Debtor{ID: 42, FirstName: "Max", LastName: "Mustermann", IBAN: "DE89370400440532013000"}

	rec, cached, err := s.Score(ctx, d, false)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 100, rec.Score)
	assert.Equal(t, models.VerificationResultVerified, rec.Result)
	assert.Equal(t, "DE89**************3000", rec.IBANMasked)
	assert.Equal(t, "Commerzbank", rec.BankName)
	assert.Equal(t, "COBADEFFXXX", rec.BIC)
	assert.Equal(t, "DE", rec.Country)
	assert.Equal(t, "yes", rec.NameMatch)
	assert.Equal(t, s.Calculate(ctx, d).Score, rec.Score)
	assert.Equal(t, int64(1), countRecords(t, db))

	again, cached, err := s.Score(ctx, d, false)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, int64(1), countRecords(t, db))

	_, cached, err = s.Score(ctx, d, true)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int64(2), countRecords(t, db))

	now = now.Add(31 * 24 * time.Hour)
	_, cached, err = s.Score(ctx, d, false)
	require.NoError(t, err)
	assert.False(t, cached, "records older than the cache ttl are not reused")
	assert.Equal(t, int64(3), countRecords(t, db))
}

func TestScoreWithoutCachePersistsEveryCall(t *testing.T) {
	db := dbtest.Open(t)
	cfg := config.Default().Vop
	cfg.CacheTTL = 0
	s := NewScorer(cfg, nil, nil, NewRepository(db))
	d := &models.Debtor{ID: 1, IBAN: "DE88370400440532013000"}

	for i := 0; i < 3; i++ {
		rec, cached, err := s.Score(context.Background(), d, false)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, 0, rec.Score)
		assert.Equal(t, models.VerificationResultRejected, rec.Result)
	}
	assert.Equal(t, int64(3), countRecords(t, db))
}
