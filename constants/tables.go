package constants

// Fixed table names in the table store.
const (
	SummaryTable = "OCR Notas Fiscais"
	ItemsTable   = "OCR Notas Fiscais - Itens"
)

// Names reported in sheets_updated.
const (
	UpdatedSummary = "Resumo"
	UpdatedItems   = "Itens"
	UpdatedTaxID   = "CNPJ"
)

// TaxIDTablePrefix starts every per-tax-ID table name.
const TaxIDTablePrefix = "CNPJ_"

// ProcessIDLayout is the timestamp portion of a process id.
const ProcessIDLayout = "20060102_150405"
