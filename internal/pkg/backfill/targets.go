package backfill

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind names a backfill target
type Kind string

const (
	KindDebtors         Kind = "debtors"
	KindBillingAttempts Kind = "attempts"
	KindVopLogs         Kind = "vop"
)

// Kinds lists every supported target
var Kinds = []Kind{KindDebtors, KindBillingAttempts, KindVopLogs}

// Row is one record that lacks bank metadata, together with the IBAN it derives from
type Row struct {
	ID       uint   `gorm:"column:id"`
	IBAN     string `gorm:"column:iban"`
	Country  string `gorm:"column:country"`
	BankCode string `gorm:"column:bank_code"`
	BankName string `gorm:"column:bank_name"`
	BIC      string `gorm:"column:bic"`
}

func (r Row) value(field string) string {
	switch field {
	case "country":
		return r.Country
	case "bank_code":
		return r.BankCode
	case "bank_name":
		return r.BankName
	case "bic":
		return r.BIC
	}
	return ""
}

// Target describes where bank metadata is missing and how it is written back
type Target struct {
	Kind  Kind
	table string
	// join pulls the IBAN in from the debtors table when the target does not store it
	join       string
	ibanColumn string
	fields     []string
}

var targets = map[Kind]Target{
	KindDebtors: {
		Kind:       KindDebtors,
		table:      "debtors",
		ibanColumn: "debtors.iban",
		fields:     []string{"country", "bank_code", "bank_name", "bic"},
	},
	KindBillingAttempts: {
		Kind:       KindBillingAttempts,
		table:      "billing_attempts",
		join:       "JOIN debtors ON debtors.id = billing_attempts.debtor_id",
		ibanColumn: "debtors.iban",
		fields:     []string{"bic"},
	},
	KindVopLogs: {
		Kind:       KindVopLogs,
		table:      "payee_verifications",
		join:       "JOIN debtors ON debtors.id = payee_verifications.debtor_id",
		ibanColumn: "debtors.iban",
		fields:     []string{"country", "bank_name", "bic"},
	},
}

// TargetFor resolves a kind to its target
func TargetFor(kind Kind) (Target, error) {
	t, ok := targets[kind]
	if !ok {
		return Target{}, fmt.Errorf("unknown backfill target %q", kind)
	}
	return t, nil
}

// ParseKind accepts the kind names used on the command line
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, err := TargetFor(k); err != nil {
		return "", err
	}
	return k, nil
}

func (t Target) missing() string {
	conds := make([]string, 0, len(t.fields))
	for _, f := range t.fields {
		conds = append(conds, fmt.Sprintf("COALESCE(%s.%s, '') = ''", t.table, f))
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

func (t Target) base(db *gorm.DB) *gorm.DB {
	q := db.Table(t.table)
	if t.join != "" {
		q = q.Joins(t.join)
	}
	return q.Where(t.missing()).Where(fmt.Sprintf("COALESCE(%s, '') <> ''", t.ibanColumn))
}

// CountMissing counts records with at least one empty metadata column
func (t Target) CountMissing(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := t.base(db.WithContext(ctx)).Count(&n).Error
	return n, err
}

// BuildQuery selects the rows lacking metadata, ordered by id
func (t Target) BuildQuery(db *gorm.DB) *gorm.DB {
	cols := []string{t.table + ".id AS id", t.ibanColumn + " AS iban"}
	for _, f := range t.fields {
		cols = append(cols, fmt.Sprintf("%s.%s AS %s", t.table, f, f))
	}
	return t.base(db).Select(strings.Join(cols, ", ")).Order(t.table + ".id ASC")
}

// Changes returns the columns that are empty on the row and can be filled from info
func (t Target) Changes(row Row, info BankInfo) map[string]interface{} {
	changes := make(map[string]interface{})
	for _, f := range t.fields {
		if row.value(f) != "" {
			continue
		}
		if v := info.value(f); v != "" {
			changes[f] = v
		}
	}
	return changes
}

// ApplyUpdate writes the changes to the row
func (t Target) ApplyUpdate(ctx context.Context, db *gorm.DB, id uint, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	return db.WithContext(ctx).Table(t.table).Where("id = ?", id).Updates(changes).Error
}
