package prompts

import "github.com/anders-planck/parseur/internal/core"

// builtinTemplates returns the default prompt set. Every prompt demands a
// bare JSON object back; the adapters unwrap fenced blocks defensively
// anyway.
func builtinTemplates() []*Template {
	return []*Template{
		{
			Key: Key{Stage: core.StageClassification, Version: 1},
			Text: `You are a document classification system. Look at the attached document and classify it.

Respond with a single JSON object, no prose, no code fences:
{
  "document_type": one of "INVOICE", "RECEIPT", "PAYSLIP", "BANK_STATEMENT", "TAX_FORM", "CONTRACT", "OTHER",
  "confidence": number between 0 and 1,
  "reasoning": short explanation of the visual and textual cues you used
}`,
		},
		{
			Key: Key{Stage: core.StageExtraction, Version: 1},
			Text: `You are a data extraction system. The attached document was classified as {{.DocumentType}}.

Extract every data field you can read. Respond with a single JSON object, no prose, no code fences:
{
  "fields": [{"name": "<snake_case_field>", "value": <string or number>, "confidence": <0..1>}],
  "data": {<the same fields as a flat object, nested objects allowed where natural>}
}

Field naming: use canonical names where they apply ({{.FieldHints}}). Amounts are plain numbers without currency symbols, dates are ISO 8601 (YYYY-MM-DD). Do not invent values you cannot read.`,
		},
		{
			Key: Key{Stage: core.StageValidation, Version: 1},
			Text: `You are a document validation system. A {{.DocumentType}} produced the following extracted data:

{{.Data}}

These deterministic rules apply:
{{.Rules}}

Cross-check the data against the attached document image when present. Respond with a single JSON object, no prose, no code fences:
{
  "is_valid": boolean,
  "confidence": <0..1>,
  "issues": [{"field": "<field>", "issue": "<what is wrong>", "severity": "error"|"warning"|"info", "suggested_fix": "<optional>"}],
  "corrected_data": {<optional: full corrected object if you are confident about fixes>}
}`,
		},
		{
			Key: Key{Stage: core.StageCorrection, Version: 1},
			Text: `You are a document correction system. A {{.DocumentType}} was extracted as:

{{.Data}}

Validation found these issues:
{{.Issues}}

Re-read the attached document where available and fix the data. Respond with a single JSON object, no prose, no code fences:
{
  "corrected_data": {<the full corrected object>},
  "changes": [{"field": "<field>", "old_value": <old>, "new_value": <new>, "reasoning": "<why>"}],
  "confidence": <0..1>
}
Only change fields you have evidence for; keep everything else as-is.`,
		},
	}
}
