// Package iban parses, normalises and validates International Bank Account Numbers and
// derives the country, national bank identifier and SEPA participation from static tables.
package iban

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/go-playground/validator/v10"
)

var format = validator.New()

// Validation error codes
const (
	ErrEmpty             = "empty"
	ErrInvalidCharacters = "invalid_characters"
	ErrUnknownCountry    = "unknown_country"
	ErrInvalidLength     = "invalid_length"
	ErrInvalidChecksum   = "invalid_checksum"
)

// Result is the outcome of validating a single IBAN
type Result struct {
	Valid       bool     `json:"valid"`
	IBAN        string   `json:"iban"`
	CountryCode string   `json:"country_code"`
	CheckDigits string   `json:"check_digits"`
	BankID      string   `json:"bank_id"`
	Errors      []string `json:"errors,omitempty"`
}

// Bank is a directory entry for a national bank identifier
type Bank struct {
	Name        string `json:"name"`
	BIC         string `json:"bic"`
	SupportsSDD bool   `json:"supports_sdd"`
}

// Validator is the IBAN semantics collaborator used by the pipeline
type Validator interface {
	Validate(raw string) Result
}

// StaticValidator validates against the built-in registry tables
type StaticValidator struct{}

// NewValidator returns the default table-driven validator
func NewValidator() Validator {
	return StaticValidator{}
}

// Validate implements Validator
func (StaticValidator) Validate(raw string) Result {
	return Validate(raw)
}

// Normalize removes spaces and dashes and upper-cases the input
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		switch r {
		case ' ', '-', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate checks format, registry length and the ISO 7064 mod-97 checksum
func Validate(raw string) Result {
	iban := Normalize(raw)
	res := Result{IBAN: iban}
	if iban == "" {
		res.Errors = []string{ErrEmpty}
		return res
	}
	if format.Var(iban, "alphanum,min=5") != nil {
		res.Errors = []string{ErrInvalidCharacters}
		return res
	}

	res.CountryCode = iban[:2]
	res.CheckDigits = iban[2:4]
	expected, ok := ibanLengths[res.CountryCode]
	if !ok || format.Var(res.CountryCode, "iso3166_1_alpha2") != nil {
		res.Errors = []string{ErrUnknownCountry}
		return res
	}
	if len(iban) != expected {
		res.Errors = []string{ErrInvalidLength}
		return res
	}
	if format.Var(res.CheckDigits, "numeric") != nil || mod97(iban) != 1 {
		res.Errors = []string{ErrInvalidChecksum}
		return res
	}

	res.Valid = true
	res.BankID = BankID(iban)
	return res
}

// IsValid is a shorthand for Validate(raw).Valid
func IsValid(raw string) bool {
	return Validate(raw).Valid
}

// Country returns the two-letter country prefix of the normalised IBAN
func Country(raw string) string {
	iban := Normalize(raw)
	if len(iban) < 2 {
		return ""
	}
	return iban[:2]
}

// BankID extracts the national bank identifier of a normalised IBAN
func BankID(raw string) string {
	iban := Normalize(raw)
	if len(iban) < 8 {
		return ""
	}
	span, ok := bankIDSpan[iban[:2]]
	if !ok {
		span = [2]int{4, 4}
	}
	end := span[0] + span[1]
	if end > len(iban) {
		return ""
	}
	return iban[span[0]:end]
}

// IsSepa reports whether the country participates in SEPA
func IsSepa(country string) bool {
	_, ok := sepaCountries[strings.ToUpper(country)]
	return ok
}

// LookupBank resolves a bank from the static directory
func LookupBank(country, bankID string) (Bank, bool) {
	banks, ok := bankDirectory[strings.ToUpper(country)]
	if !ok {
		return Bank{}, false
	}
	bank, ok := banks[strings.ToUpper(bankID)]
	return bank, ok
}

// LookupBankForIBAN resolves the bank of a (valid) IBAN
func LookupBankForIBAN(raw string) (Bank, bool) {
	return LookupBank(Country(raw), BankID(raw))
}

// Hash returns the hex sha256 of the normalised IBAN; formatting differences hash equally
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])
}

// Mask keeps the first and last four characters, e.g. DE89************3000
func Mask(raw string) string {
	iban := Normalize(raw)
	if len(iban) <= 8 {
		return strings.Repeat("*", len(iban))
	}
	return iban[:4] + strings.Repeat("*", len(iban)-8) + iban[len(iban)-4:]
}

// mod97 computes the remainder of the rearranged IBAN interpreted as a decimal number
func mod97(iban string) int {
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		}
	}
	return rem
}
