package tables

import (
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
)

// TimestampLayout is how processing times are written into cells.
const TimestampLayout = "02/01/2006 15:04:05"

// StatusProcessed is the summary status cell of every written record.
const StatusProcessed = "Processado com Sucesso"

const statusTaxID = "Processado"

var SummaryHeaders = []string{
	"ID Processamento",
	"Data/Hora Processamento",
	"Nome Arquivo",
	"Número Nota",
	"Série",
	"Data Emissão",
	"Data Vencimento",
	"CNPJ Emissor",
	"Razão Social Emissor",
	"CNPJ Destinatário",
	"Razão Social Destinatário",
	"Valor Total",
	"Valor ICMS",
	"Valor IPI",
	"Valor PIS",
	"Valor COFINS",
	"Base Cálculo ICMS",
	"Valor Desconto",
	"Valor Frete",
	"Chave Acesso",
	"Protocolo Autorização",
	"Natureza Operação",
	"Quantidade Itens",
	"Status Processamento",
}

var ItemHeaders = []string{
	"ID Processamento",
	"Número Nota",
	"CNPJ Emissor",
	"Razão Social Emissor",
	"Item Sequencia",
	"Código Produto",
	"Descrição Produto",
	"Quantidade",
	"Unidade",
	"Valor Unitário",
	"Valor Total Item",
	"NCM",
	"CFOP",
	"CST ICMS",
	"Alíquota ICMS",
	"Valor ICMS Item",
	"Data Processamento",
	"Nome Arquivo",
}

var TaxIDHeaders = []string{
	"Data Processamento",
	"Número Nota",
	"Série",
	"Data Emissão",
	"CNPJ Destinatário",
	"Razão Social Destinatário",
	"Valor Total",
	"Valor ICMS",
	"Valor IPI",
	"Chave Acesso",
	"Quantidade Itens",
	"Nome Arquivo",
	"Status",
}

// TaxIDTableName returns CNPJ_<first 8 digits>_<issuer slug>. ok is false unless taxID has 14 digits.
func TaxIDTableName(taxID, issuerName string) (name string, ok bool) {
	digits := common.DigitsOnly(taxID)
	if len(digits) != 14 {
		return "", false
	}
	slug := common.Slug(issuerName, 30)
	if slug == "" {
		slug = "Empresa"
	}
	return constants.TaxIDTablePrefix + digits[:8] + "_" + slug, true
}

func text(p *string) string { return entity.Deref(p) }

func number(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// SummaryRow renders rec as one row under SummaryHeaders.
func SummaryRow(processID string, at time.Time, filename string, rec *entity.Record) []string {
	return []string{
		processID,
		at.Format(TimestampLayout),
		filename,
		text(rec.DocumentNumber),
		text(rec.Series),
		text(rec.IssueDate),
		text(rec.DueDate),
		text(rec.IssuerTaxID),
		text(rec.IssuerName),
		text(rec.RecipientTaxID),
		text(rec.RecipientName),
		number(rec.TotalValue),
		number(rec.ICMSValue),
		number(rec.IPIValue),
		number(rec.PISValue),
		number(rec.COFINSValue),
		number(rec.ICMSBase),
		number(rec.Discount),
		number(rec.Freight),
		text(rec.AccessKey),
		text(rec.AuthorizationProtocol),
		text(rec.OperationNature),
		strconv.Itoa(len(rec.Items)),
		StatusProcessed,
	}
}

// ItemRows renders one row per line item, numbered from 1.
func ItemRows(processID string, at time.Time, filename string, rec *entity.Record) [][]string {
	rows := make([][]string, 0, len(rec.Items))
	for i, it := range rec.Items {
		rows = append(rows, []string{
			processID,
			text(rec.DocumentNumber),
			text(rec.IssuerTaxID),
			text(rec.IssuerName),
			strconv.Itoa(i + 1),
			text(it.Code),
			text(it.Description),
			text(it.Quantity),
			text(it.Unit),
			number(it.UnitPrice),
			number(it.LineTotal),
			text(it.NCM),
			text(it.CFOP),
			text(it.CSTICMS),
			text(it.ICMSRate),
			number(it.ICMSValue),
			at.Format(TimestampLayout),
			filename,
		})
	}
	return rows
}

// TaxIDRow renders rec for its issuer's own table.
func TaxIDRow(at time.Time, filename string, rec *entity.Record) []string {
	return []string{
		at.Format(TimestampLayout),
		text(rec.DocumentNumber),
		text(rec.Series),
		text(rec.IssueDate),
		text(rec.RecipientTaxID),
		text(rec.RecipientName),
		number(rec.TotalValue),
		number(rec.ICMSValue),
		number(rec.IPIValue),
		text(rec.AccessKey),
		strconv.Itoa(len(rec.Items)),
		filename,
		statusTaxID,
	}
}

// rowMap zips a row with its header. Missing cells become "".
func rowMap(header, row []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(row) {
			m[h] = row[i]
		} else {
			m[h] = ""
		}
	}
	return m
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
