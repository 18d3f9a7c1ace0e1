// Package backfill fills missing bank metadata (country, bank code, bank name, BIC) on
// stored records from their IBAN.
package backfill

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/WebOleg/sepacollect/internal/pkg/iban"
)

// DefaultBatchSize is used when Options.BatchSize is not positive
const DefaultBatchSize = 500

// BankInfo is the metadata derived from an IBAN
type BankInfo struct {
	Country  string
	BankCode string
	BankName string
	BIC      string
}

func (b BankInfo) value(field string) string {
	switch field {
	case "country":
		return b.Country
	case "bank_code":
		return b.BankCode
	case "bank_name":
		return b.BankName
	case "bic":
		return b.BIC
	}
	return ""
}

// Options controls a backfill run
type Options struct {
	BatchSize int
	DryRun    bool
}

// Report summarises a backfill run. In dry-run Updated counts the rows that would change.
type Report struct {
	Kind    Kind  `json:"kind"`
	DryRun  bool  `json:"dry_run"`
	Missing int64 `json:"missing"`
	Scanned int   `json:"scanned"`
	Updated int   `json:"updated"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
}

// Runner executes backfills against the database
type Runner struct {
	db        *gorm.DB
	validator iban.Validator
}

// NewRunner creates a runner. A nil validator uses the static IBAN tables.
func NewRunner(db *gorm.DB, validator iban.Validator) *Runner {
	if validator == nil {
		validator = iban.NewValidator()
	}
	return &Runner{db: db, validator: validator}
}

// Lookup derives bank metadata from an IBAN. ok is false for invalid IBANs.
func (r *Runner) Lookup(raw string) (BankInfo, bool) {
	res := r.validator.Validate(raw)
	if !res.Valid {
		return BankInfo{}, false
	}
	info := BankInfo{Country: res.CountryCode, BankCode: res.BankID}
	if bank, ok := iban.LookupBank(res.CountryCode, res.BankID); ok {
		info.BankName = bank.Name
		info.BIC = bank.BIC
	}
	return info, true
}

// Run walks every row of the target that lacks metadata, in id order and in batches
func (r *Runner) Run(ctx context.Context, kind Kind, opts Options) (Report, error) {
	report := Report{Kind: kind, DryRun: opts.DryRun}
	target, err := TargetFor(kind)
	if err != nil {
		return report, err
	}
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	if report.Missing, err = target.CountMissing(ctx, r.db); err != nil {
		return report, fmt.Errorf("count missing %s: %w", kind, err)
	}
	log.Infof("[Backfill] %s: %d records without bank metadata (dry run: %t)", kind, report.Missing, opts.DryRun)
	if report.Missing == 0 {
		return report, nil
	}

	var cursor uint
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var rows []Row
		err := target.BuildQuery(r.db.WithContext(ctx)).
			Where(fmt.Sprintf("%s.id > ?", target.table), cursor).
			Limit(size).
			Scan(&rows).Error
		if err != nil {
			return report, fmt.Errorf("load %s batch after id %d: %w", kind, cursor, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			report.Scanned++
			info, ok := r.Lookup(row.IBAN)
			if !ok {
				report.Skipped++
				continue
			}
			changes := target.Changes(row, info)
			if len(changes) == 0 {
				report.Skipped++
				continue
			}
			if !opts.DryRun {
				if err := target.ApplyUpdate(ctx, r.db, row.ID, changes); err != nil {
					report.Failed++
					log.Errorf("[Backfill] %s %d update failed: %v", kind, row.ID, err)
					continue
				}
			}
			report.Updated++
		}

		cursor = rows[len(rows)-1].ID
		if len(rows) < size {
			break
		}
	}

	log.Infof("[Backfill] %s done: scanned=%d updated=%d skipped=%d failed=%d",
		kind, report.Scanned, report.Updated, report.Skipped, report.Failed)
	return report, nil
}
