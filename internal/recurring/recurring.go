// Package recurring infers subscription behavior and purchase-history
// aggregates from a single merchant's transaction history.
//
// Both classifiers are pure computations over the supplied slice; callers own
// fetching the history and must not pass an empty slice to
// AnalyzePurchaseHistory (documented precondition, not defended internally).
package recurring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-reconciler/internal/ledger"
)

// minSubscriptionTransactions is the smallest history that yields at least
// two intervals.
const minSubscriptionTransactions = 3

// maxIntervalStdDevDays is the interval-jitter ceiling for the subscription
// signal.
const maxIntervalStdDevDays = 5.0

// recurringVariationThreshold is the relative interval variation below which
// a purchase history is labeled "recurring".
const recurringVariationThreshold = 0.2

// DetectSubscription classifies a merchant's transactions as a subscription
// pattern. With fewer than three transactions it reports a negative result
// without further computation. A subscription needs at least two intervals,
// interval jitter under five days, and an exactly constant amount.
func DetectSubscription(txns []*ledger.Transaction) *ledger.SubscriptionInfo {
	if len(txns) < minSubscriptionTransactions {
		return &ledger.SubscriptionInfo{IsSubscription: false}
	}

	dates := sortedDates(txns)
	intervals := dayIntervals(dates)

	meanInterval := mean(intervals)
	stdDev := stdDevPop(intervals, meanInterval)

	if len(intervals) < 2 || stdDev >= maxIntervalStdDevDays || !hasConsistentAmount(txns) {
		return &ledger.SubscriptionInfo{IsSubscription: false}
	}

	next := dates[len(dates)-1].Add(time.Duration(meanInterval * 24 * float64(time.Hour)))

	return &ledger.SubscriptionInfo{
		IsSubscription:  true,
		Frequency:       classifyFrequency(meanInterval),
		NextPaymentDate: &next,
	}
}

// AnalyzePurchaseHistory computes the purchase-history aggregate for a
// merchant. Independent of the subscription signal: the frequency label here
// uses relative interval variation, not the absolute-jitter test above.
// Precondition: txns must be non-empty.
func AnalyzePurchaseHistory(txns []*ledger.Transaction) *ledger.PurchaseHistory {
	total := decimal.Zero
	for _, tx := range txns {
		total = total.Add(tx.Amount)
	}

	dates := sortedDates(txns)
	last := latestTransaction(txns)

	return &ledger.PurchaseHistory{
		AverageAmount:    total.Div(decimal.NewFromInt(int64(len(txns)))),
		TotalSpent:       total,
		TransactionCount: len(txns),
		Frequency:        classifyPurchaseFrequency(dates),
		LastDate:         dates[len(dates)-1],
		DominantCategory: DominantCategory(txns),
		LastDescription:  last.Description,
	}
}

// DominantCategory returns the most frequent category tag across the
// transactions, first-seen winning ties, or "OTHER" when no transaction
// carries a category. Implemented as a pure fold over the input.
func DominantCategory(txns []*ledger.Transaction) string {
	counts := make(map[string]int)
	var order []string

	for _, tx := range txns {
		for _, cat := range tx.Categories {
			if _, seen := counts[cat]; !seen {
				order = append(order, cat)
			}
			counts[cat]++
		}
	}

	best := ""
	bestCount := 0
	for _, cat := range order {
		if counts[cat] > bestCount {
			best = cat
			bestCount = counts[cat]
		}
	}

	if best == "" {
		return "OTHER"
	}
	return best
}

// classifyFrequency buckets a mean day-interval into a human label.
func classifyFrequency(meanIntervalDays float64) string {
	switch {
	case meanIntervalDays >= 25 && meanIntervalDays <= 35:
		return "monthly"
	case meanIntervalDays >= 85 && meanIntervalDays <= 95:
		return "quarterly"
	case meanIntervalDays >= 350 && meanIntervalDays <= 380:
		return "annual"
	default:
		return fmt.Sprintf("every %d days", int(math.Round(meanIntervalDays)))
	}
}

// classifyPurchaseFrequency labels a date history one-time, recurring or
// sporadic based on relative interval variation.
func classifyPurchaseFrequency(dates []time.Time) string {
	if len(dates) == 1 {
		return "one-time"
	}

	intervals := make([]float64, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		intervals = append(intervals, float64(dates[i].Sub(dates[i-1])))
	}

	m := mean(intervals)
	if m == 0 {
		return "recurring"
	}
	if stdDevPop(intervals, m)/m < recurringVariationThreshold {
		return "recurring"
	}
	return "sporadic"
}

func hasConsistentAmount(txns []*ledger.Transaction) bool {
	distinct := make(map[string]struct{}, len(txns))
	for _, tx := range txns {
		distinct[tx.Amount.String()] = struct{}{}
	}
	return len(distinct) == 1
}

// sortedDates returns the transaction dates in UTC, ascending.
func sortedDates(txns []*ledger.Transaction) []time.Time {
	dates := make([]time.Time, len(txns))
	for i, tx := range txns {
		dates[i] = tx.Date.UTC()
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// dayIntervals returns consecutive gaps between sorted dates, in days.
func dayIntervals(dates []time.Time) []float64 {
	intervals := make([]float64, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		intervals = append(intervals, dates[i].Sub(dates[i-1]).Hours()/24)
	}
	return intervals
}

func latestTransaction(txns []*ledger.Transaction) *ledger.Transaction {
	last := txns[0]
	for _, tx := range txns[1:] {
		if tx.Date.After(last.Date) {
			last = tx
		}
	}
	return last
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stdDevPop computes the population standard deviation.
func stdDevPop(vals []float64, mean float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}
