package iban

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		valid   bool
		country string
		bankID  string
		errCode string
	}{
		{"German reference IBAN", "DE89370400440532013000", true, "DE", "37040044", ""},
		{"formatted with spaces", "de89 3704 0044 0532 0130 00", true, "DE", "37040044", ""},
		{"Dutch IBAN", "NL91ABNA0417164300", true, "NL", "ABNA", ""},
		{"Austrian IBAN", "AT611904300234573201", true, "AT", "19043", ""},
		{"Belgian IBAN", "BE68539007547034", true, "BE", "539", ""},
		{"Turkish IBAN", "TR330006100519786457841326", true, "TR", "0006", ""},
		{"bad checksum", "DE89370400440532013001", false, "DE", "", ErrInvalidChecksum},
		{"wrong length", "DE8937040044053201300", false, "DE", "", ErrInvalidLength},
		{"unknown country", "XX89370400440532013000", false, "XX", "", ErrUnknownCountry},
		{"numeric country prefix", "1289370400440532013000", false, "12", "", ErrUnknownCountry},
		{"letters in check digits", "DEAB370400440532013000", false, "DE", "", ErrInvalidChecksum},
		{"invalid characters", "DE89-3704_0044", false, "", "", ErrInvalidCharacters},
		{"empty", "   ", false, "", "", ErrEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.in)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.country, res.CountryCode)
			assert.Equal(t, tt.bankID, res.BankID)
			if tt.errCode == "" {
				assert.Empty(t, res.Errors)
			} else {
				assert.Contains(t, res.Errors, tt.errCode)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "DE89370400440532013000", Normalize(" de89-3704 0044\t0532 0130 00 "))
}

func TestHashIsStableAcrossFormatting(t *testing.T) {
	a := Hash("DE89370400440532013000")
	b := Hash("de89 3704 0044 0532 0130 00")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Hash("NL91ABNA0417164300"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "DE89**************3000", Mask("DE89370400440532013000"))
	assert.Equal(t, "****", Mask("DE89"))
}

func TestLookupBank(t *testing.T) {
	bank, ok := LookupBankForIBAN("DE89370400440532013000")
	require.True(t, ok)
	assert.Equal(t, "Commerzbank", bank.Name)
	assert.Equal(t, "COBADEFFXXX", bank.BIC)
	assert.True(t, bank.SupportsSDD)

	_, ok = LookupBankForIBAN("AT611904300234573201")
	assert.False(t, ok)
}

func TestIsSepa(t *testing.T) {
	assert.True(t, IsSepa("DE"))
	assert.True(t, IsSepa("nl"))
	assert.False(t, IsSepa("TR"))
	assert.False(t, IsSepa(""))
}

func TestStaticValidatorImplementsValidator(t *testing.T) {
	var v Validator = NewValidator()
	assert.True(t, v.Validate("DE89370400440532013000").Valid)
}

func TestBankDirectoryEntriesAreWellFormed(t *testing.T) {
	v := validator.New()
	for country, banks := range bankDirectory {
		assert.NoError(t, v.Var(country, "iso3166_1_alpha2"), country)
		for id, bank := range banks {
			assert.NoError(t, v.Var(bank.BIC, "bic"), "%s %s", country, id)
			assert.NotEmpty(t, bank.Name, "%s %s", country, id)
		}
	}
}
