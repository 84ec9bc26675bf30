// Package enrichment turns a merchant's transaction history into an enriched
// merchant record: interval statistics feed a fixed prompt template, the
// model's free-text completion is parsed into structured fields, and the
// result is upserted through the merchant store.
package enrichment

import (
	"strings"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

// ParseResponse extracts an EnrichedMerchantData from a newline-delimited
// block of "Key: value" pairs, the shape the prompt template asks the model
// for. Model output is untrusted free text, so parsing never fails: empty
// lines and unrecognized keys are skipped, and the worst case is a record
// with no extracted fields. The caller stamps LastEnrichmentDate and
// EnrichmentSource afterwards.
func ParseResponse(text string) *ledger.EnrichedMerchantData {
	data := &ledger.EnrichedMerchantData{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch normalizeKey(key) {
		case "industry":
			data.Industry = value
		case "subindustry":
			data.SubIndustry = value
		case "businesstype":
			data.BusinessType = value
		case "returnspolicy":
			data.ReturnsPolicy = value
		case "paymentmethods":
			data.PaymentMethods = splitPaymentMethods(value)
		case "supporturl":
			if value != "N/A" {
				data.ContactInfo.SupportURL = value
			}
		}
	}

	return data
}

// normalizeKey lowercases a field key and strips separator noise so
// "Sub-Industry", "sub_industry" and "SubIndustry" all match.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, key)
}

func splitPaymentMethods(value string) []string {
	var methods []string
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			methods = append(methods, tok)
		}
	}
	return methods
}
