package enrichment

import (
	"fmt"
	"strings"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

// buildEnrichmentPrompt renders the fixed prompt template for one merchant.
// The response contract mirrors what ParseResponse expects: one "Key: value"
// line per field, nothing else.
func buildEnrichmentPrompt(merchant string, hist *ledger.PurchaseHistory, sub *ledger.SubscriptionInfo) string {
	var b strings.Builder

	b.WriteString("You are a merchant intelligence assistant for an expense tracker.\n\n")
	fmt.Fprintf(&b, "Describe the merchant %q.\n\n", merchant)

	b.WriteString("Context from the user's transaction history:\n")
	fmt.Fprintf(&b, "- Transactions: %d, purchase pattern: %s\n", hist.TransactionCount, hist.Frequency)
	fmt.Fprintf(&b, "- Dominant spending category: %s\n", hist.DominantCategory)
	if hist.LastDescription != "" {
		fmt.Fprintf(&b, "- Latest statement description: %q\n", hist.LastDescription)
	}
	if sub.IsSubscription {
		fmt.Fprintf(&b, "- Looks like a %s subscription\n", sub.Frequency)
	}

	b.WriteString("\nRespond with plain text, one field per line, in the exact form \"Key: value\":\n")
	b.WriteString("Industry: <top-level industry>\n")
	b.WriteString("SubIndustry: <more specific segment>\n")
	b.WriteString("BusinessType: <e.g. subscription service, retail chain, restaurant>\n")
	b.WriteString("PaymentMethods: <comma-separated list>\n")
	b.WriteString("ReturnsPolicy: <one sentence, or a short summary>\n")
	b.WriteString("SupportUrl: <customer support URL, or N/A if unknown>\n")
	b.WriteString("\nDo not wrap the response in Markdown and do not add any other lines.\n")

	return b.String()
}
