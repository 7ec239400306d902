package llm

import "fmt"

// PromptVersion changes whenever field names, types or rules in ExtractionPrompt change.
// It is part of the extraction cache key.
const PromptVersion = "nfe-v1"

// ExtractionPrompt is the fixed instruction sent with every page. The JSON keys here are the
// canonical record schema; renaming one breaks aggregation and persistence.
const ExtractionPrompt = `Você é um especialista em análise de documentos fiscais brasileiros. Analise esta imagem de nota fiscal eletrônica (NFe) ou nota fiscal e extraia TODOS os dados disponíveis de forma precisa e estruturada.

IMPORTANTE: Retorne APENAS um JSON válido com a seguinte estrutura exata:

{
  "success": true,
  "data": {
    "numero_nota": "número da nota fiscal (ignore pontos e vírgulas)",
    "serie": "série da nota",
    "data_emissao": "data de emissão no formato DD/MM/AAAA",
    "data_vencimento": "data de vencimento no formato DD/MM/AAAA ou null se não houver",
    "cnpj_emissor": "CNPJ do emissor (apenas números, sem pontuação)",
    "razao_social_emissor": "razão social completa do emissor",
    "endereco_emissor": "endereço completo do emissor",
    "cnpj_destinatario": "CNPJ do destinatário (apenas números, sem pontuação)",
    "razao_social_destinatario": "razão social completa do destinatário",
    "endereco_destinatario": "endereço completo do destinatário",
    "valor_total": 1234.56,
    "valor_icms": 123.45,
    "valor_ipi": 12.34,
    "valor_pis": 12.34,
    "valor_cofins": 12.34,
    "base_calculo_icms": 1234.56,
    "valor_desconto": 12.34,
    "valor_frete": 12.34,
    "chave_acesso": "chave de acesso da NFe (44 dígitos)",
    "protocolo_autorizacao": "protocolo de autorização",
    "natureza_operacao": "descrição da natureza da operação",
    "tipo_pagamento": "forma de pagamento",
    "observacoes": "observações gerais da nota",
    "items": [
      {
        "codigo": "código do produto/serviço",
        "descricao": "descrição completa do produto/serviço",
        "quantidade": "quantidade",
        "unidade": "unidade de medida",
        "valor_unitario": 123.45,
        "valor_total": 1234.56,
        "ncm": "código NCM/SH",
        "cfop": "código CFOP",
        "cst_icms": "CST do ICMS",
        "aliquota_icms": "alíquota do ICMS (%)",
        "valor_icms_item": 12.34
      }
    ]
  }
}

REGRAS IMPORTANTES:
1. Para valores numéricos, use sempre formato decimal (ex: 1234.56, não "1.234,56")
2. Para datas, use formato DD/MM/AAAA
3. Para CNPJs, remova toda pontuação (apenas números)
4. Se um campo não for encontrado, use null (não string vazia)
5. Para arrays vazios, use []
6. Seja muito preciso na extração de números e valores
7. Se não conseguir extrair dados essenciais, retorne: {"success": false, "error": "Descrição específica do problema"}

Extraia TODOS os itens/produtos listados na nota fiscal, mesmo que sejam muitos.`

// TextPrompt asks for a plain transcription of one page.
func TextPrompt(page int) string {
	return fmt.Sprintf(`Extraia todo o texto visível desta imagem (página %d) de forma precisa e organizada.
Mantenha a formatação e estrutura original do documento.
Retorne apenas o texto extraído, sem comentários adicionais.`, page)
}
