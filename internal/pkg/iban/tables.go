package iban

// ibanLengths maps ISO 3166 country codes to the total IBAN length (ISO 13616 registry).
var ibanLengths = map[string]int{
	"AD": 24, "AE": 23, "AL": 28, "AT": 20, "AZ": 28, "BA": 20, "BE": 16, "BG": 22,
	"BH": 22, "BR": 29, "CH": 21, "CR": 22, "CY": 28, "CZ": 24, "DE": 22, "DK": 18,
	"DO": 28, "EE": 20, "EG": 29, "ES": 24, "FI": 18, "FO": 18, "FR": 27, "GB": 22,
	"GE": 22, "GI": 23, "GL": 18, "GR": 27, "GT": 28, "HR": 21, "HU": 28, "IE": 22,
	"IL": 23, "IS": 26, "IT": 27, "JO": 30, "KW": 30, "KZ": 20, "LB": 28, "LC": 32,
	"LI": 21, "LT": 20, "LU": 20, "LV": 21, "MC": 27, "MD": 24, "ME": 22, "MK": 19,
	"MR": 27, "MT": 31, "MU": 30, "NL": 18, "NO": 15, "PK": 24, "PL": 28, "PS": 29,
	"PT": 25, "QA": 29, "RO": 24, "RS": 22, "SA": 24, "SE": 24, "SI": 19, "SK": 24,
	"SM": 27, "TN": 24, "TR": 26, "UA": 29, "VA": 22, "VG": 24, "XK": 20,
}

// sepaCountries are the countries participating in the SEPA direct-debit scheme.
var sepaCountries = map[string]struct{}{
	"AD": {}, "AT": {}, "BE": {}, "BG": {}, "CH": {}, "CY": {}, "CZ": {}, "DE": {},
	"DK": {}, "EE": {}, "ES": {}, "FI": {}, "FR": {}, "GB": {}, "GI": {}, "GR": {},
	"HR": {}, "HU": {}, "IE": {}, "IS": {}, "IT": {}, "LI": {}, "LT": {}, "LU": {},
	"LV": {}, "MC": {}, "MT": {}, "NL": {}, "NO": {}, "PL": {}, "PT": {}, "RO": {},
	"SE": {}, "SI": {}, "SK": {}, "SM": {}, "VA": {},
}

// bankIDSpan locates the national bank identifier inside the IBAN (offset, length).
// Countries not listed use the first four BBAN characters.
var bankIDSpan = map[string][2]int{
	"AT": {4, 5},
	"BE": {4, 3},
	"CH": {4, 5},
	"DE": {4, 8},
	"ES": {4, 4},
	"FR": {4, 5},
	"GB": {4, 4},
	"IE": {4, 4},
	"IT": {5, 5},
	"LU": {4, 3},
	"NL": {4, 4},
	"PL": {4, 8},
	"PT": {4, 4},
}

// bankDirectory is the static bank lookup keyed by country and national bank identifier.
var bankDirectory = map[string]map[string]Bank{
	"DE": {
		"37040044": {Name: "Commerzbank", BIC: "COBADEFFXXX", SupportsSDD: true},
		"10070000": {Name: "Deutsche Bank", BIC: "DEUTDEBBXXX", SupportsSDD: true},
		"50010517": {Name: "ING-DiBa", BIC: "INGDDEFFXXX", SupportsSDD: true},
		"10010010": {Name: "Postbank", BIC: "PBNKDEFFXXX", SupportsSDD: true},
		"20041133": {Name: "comdirect bank", BIC: "COBADEHD001", SupportsSDD: true},
		"12030000": {Name: "Deutsche Kreditbank", BIC: "BYLADEM1001", SupportsSDD: true},
		"70150000": {Name: "Stadtsparkasse München", BIC: "SSKMDEMMXXX", SupportsSDD: true},
		"10011001": {Name: "N26 Bank", BIC: "NTSBDEB1XXX", SupportsSDD: true},
		"11010101": {Name: "Solaris", BIC: "SOBKDEB2XXX", SupportsSDD: false},
	},
	"AT": {
		"12000": {Name: "UniCredit Bank Austria", BIC: "BKAUATWWXXX", SupportsSDD: true},
		"20111": {Name: "Erste Bank", BIC: "GIBAATWWXXX", SupportsSDD: true},
	},
	"NL": {
		"ABNA": {Name: "ABN AMRO", BIC: "ABNANL2AXXX", SupportsSDD: true},
		"INGB": {Name: "ING Bank", BIC: "INGBNL2AXXX", SupportsSDD: true},
		"RABO": {Name: "Rabobank", BIC: "RABONL2UXXX", SupportsSDD: true},
	},
	"FR": {
		"30004": {Name: "BNP Paribas", BIC: "BNPAFRPPXXX", SupportsSDD: true},
		"30003": {Name: "Société Générale", BIC: "SOGEFRPPXXX", SupportsSDD: true},
	},
	"ES": {
		"2100": {Name: "CaixaBank", BIC: "CAIXESBBXXX", SupportsSDD: true},
		"0049": {Name: "Banco Santander", BIC: "BSCHESMMXXX", SupportsSDD: true},
	},
	"BE": {
		"001": {Name: "BNP Paribas Fortis", BIC: "GEBABEBBXXX", SupportsSDD: true},
	},
	"IT": {
		"03069": {Name: "Intesa Sanpaolo", BIC: "BCITITMMXXX", SupportsSDD: true},
	},
	"GB": {
		"NWBK": {Name: "NatWest", BIC: "NWBKGB2LXXX", SupportsSDD: false},
	},
}
