package entity

// Record is the canonical invoice. JSON keys follow the extraction contract sent to the model
// and must not change without updating the prompt.
type Record struct {
	DocumentNumber        *string  `json:"numero_nota"`
	Series                *string  `json:"serie"`
	IssueDate             *string  `json:"data_emissao"`
	DueDate               *string  `json:"data_vencimento"`
	IssuerTaxID           *string  `json:"cnpj_emissor"`
	IssuerName            *string  `json:"razao_social_emissor"`
	IssuerAddress         *string  `json:"endereco_emissor"`
	RecipientTaxID        *string  `json:"cnpj_destinatario"`
	RecipientName         *string  `json:"razao_social_destinatario"`
	RecipientAddress      *string  `json:"endereco_destinatario"`
	TotalValue            *float64 `json:"valor_total"`
	ICMSValue             *float64 `json:"valor_icms"`
	IPIValue              *float64 `json:"valor_ipi"`
	PISValue              *float64 `json:"valor_pis"`
	COFINSValue           *float64 `json:"valor_cofins"`
	ICMSBase              *float64 `json:"base_calculo_icms"`
	Discount              *float64 `json:"valor_desconto"`
	Freight               *float64 `json:"valor_frete"`
	AccessKey             *string  `json:"chave_acesso"`
	AuthorizationProtocol *string  `json:"protocolo_autorizacao"`
	OperationNature       *string  `json:"natureza_operacao"`
	PaymentType           *string  `json:"tipo_pagamento"`
	Notes                 *string  `json:"observacoes"`
	Items                 []Item   `json:"items"`
}

// Item is one invoice line.
type Item struct {
	Code        *string  `json:"codigo"`
	Description *string  `json:"descricao"`
	Quantity    *string  `json:"quantidade"`
	Unit        *string  `json:"unidade"`
	UnitPrice   *float64 `json:"valor_unitario"`
	LineTotal   *float64 `json:"valor_total"`
	NCM         *string  `json:"ncm"`
	CFOP        *string  `json:"cfop"`
	CSTICMS     *string  `json:"cst_icms"`
	ICMSRate    *string  `json:"aliquota_icms"`
	ICMSValue   *float64 `json:"valor_icms_item"`
}

// StringField binds a contract key to a nullable text field.
type StringField[T any] struct {
	Key string
	Ptr func(*T) **string
}

// NumberField binds a contract key to a nullable numeric field.
type NumberField[T any] struct {
	Key string
	Ptr func(*T) **float64
}

// IdentityFields are merged first-non-null-wins. Notes are excluded; they are concatenated.
var IdentityFields = []StringField[Record]{
	{"numero_nota", func(r *Record) **string { return &r.DocumentNumber }},
	{"serie", func(r *Record) **string { return &r.Series }},
	{"data_emissao", func(r *Record) **string { return &r.IssueDate }},
	{"data_vencimento", func(r *Record) **string { return &r.DueDate }},
	{"cnpj_emissor", func(r *Record) **string { return &r.IssuerTaxID }},
	{"razao_social_emissor", func(r *Record) **string { return &r.IssuerName }},
	{"endereco_emissor", func(r *Record) **string { return &r.IssuerAddress }},
	{"cnpj_destinatario", func(r *Record) **string { return &r.RecipientTaxID }},
	{"razao_social_destinatario", func(r *Record) **string { return &r.RecipientName }},
	{"endereco_destinatario", func(r *Record) **string { return &r.RecipientAddress }},
	{"chave_acesso", func(r *Record) **string { return &r.AccessKey }},
	{"protocolo_autorizacao", func(r *Record) **string { return &r.AuthorizationProtocol }},
	{"natureza_operacao", func(r *Record) **string { return &r.OperationNature }},
	{"tipo_pagamento", func(r *Record) **string { return &r.PaymentType }},
}

// NotesField is the free-text notes key.
var NotesField = StringField[Record]{"observacoes", func(r *Record) **string { return &r.Notes }}

// MonetaryFields accumulate by summation across pages.
var MonetaryFields = []NumberField[Record]{
	{"valor_total", func(r *Record) **float64 { return &r.TotalValue }},
	{"valor_icms", func(r *Record) **float64 { return &r.ICMSValue }},
	{"valor_ipi", func(r *Record) **float64 { return &r.IPIValue }},
	{"valor_pis", func(r *Record) **float64 { return &r.PISValue }},
	{"valor_cofins", func(r *Record) **float64 { return &r.COFINSValue }},
	{"base_calculo_icms", func(r *Record) **float64 { return &r.ICMSBase }},
	{"valor_desconto", func(r *Record) **float64 { return &r.Discount }},
	{"valor_frete", func(r *Record) **float64 { return &r.Freight }},
}

// ItemTextFields are the textual item columns.
var ItemTextFields = []StringField[Item]{
	{"codigo", func(i *Item) **string { return &i.Code }},
	{"descricao", func(i *Item) **string { return &i.Description }},
	{"quantidade", func(i *Item) **string { return &i.Quantity }},
	{"unidade", func(i *Item) **string { return &i.Unit }},
	{"ncm", func(i *Item) **string { return &i.NCM }},
	{"cfop", func(i *Item) **string { return &i.CFOP }},
	{"cst_icms", func(i *Item) **string { return &i.CSTICMS }},
	{"aliquota_icms", func(i *Item) **string { return &i.ICMSRate }},
}

// ItemMonetaryFields are coerced to numbers like the record totals.
var ItemMonetaryFields = []NumberField[Item]{
	{"valor_unitario", func(i *Item) **float64 { return &i.UnitPrice }},
	{"valor_total", func(i *Item) **float64 { return &i.LineTotal }},
	{"valor_icms_item", func(i *Item) **float64 { return &i.ICMSValue }},
}

// NewEmptyRecord returns a record with every monetary accumulator at zero and no items.
func NewEmptyRecord() *Record {
	r := &Record{Items: []Item{}}
	for _, f := range MonetaryFields {
		*f.Ptr(r) = Float(0)
	}
	return r
}

// Str returns a pointer to s.
func Str(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Deref returns the pointed string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
