package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PlannedAllocation is one debit the allocator decided on. Nothing is written
// until the plan is handed to RecordUsage.
type PlannedAllocation struct {
	SourceKey     string
	Collection    Collection
	Pool          Pool
	SportType     string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Allocate plans how amount is drawn from the given sources. Refunds are
// drained before packages and each pool is consumed oldest submission first.
func Allocate(amount decimal.Decimal, packages []CreditSource, refunds []CreditSource) ([]PlannedAllocation, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	plan := make([]PlannedAllocation, 0)
	if amount.IsZero() {
		return plan, nil
	}
	remaining := amount
	plan, remaining = drawPool(plan, remaining, refunds, PoolRefund)
	if remaining.IsPositive() {
		plan, remaining = drawPool(plan, remaining, packages, PoolPackage)
	}
	if remaining.IsPositive() {
		return nil, &InsufficientCreditsError{
			Requested: amount,
			Available: amount.Sub(remaining),
		}
	}
	return plan, nil
}

func drawPool(plan []PlannedAllocation, remaining decimal.Decimal, sources []CreditSource, pool Pool) ([]PlannedAllocation, decimal.Decimal) {
	ordered := make([]CreditSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(left, right int) bool {
		return ordered[left].SubmittedDate.Before(ordered[right].SubmittedDate)
	})
	for _, source := range ordered {
		if !remaining.IsPositive() {
			break
		}
		available := source.CreditsLeft
		if !available.IsPositive() {
			continue
		}
		debit := decimal.Min(available, remaining)
		collection := source.Collection
		if collection == "" {
			collection = defaultCollection(pool)
		}
		plan = append(plan, PlannedAllocation{
			SourceKey:     source.Key,
			Collection:    collection,
			Pool:          pool,
			SportType:     source.Sport(),
			Amount:        debit.Neg(),
			BalanceBefore: available,
			BalanceAfter:  available.Sub(debit),
		})
		remaining = remaining.Sub(debit)
	}
	return plan, remaining
}

func defaultCollection(pool Pool) Collection {
	if pool == PoolRefund {
		return CollectionRefunds
	}
	return CollectionPackages
}

func sumPlanned(plan []PlannedAllocation) (amount, before, after decimal.Decimal) {
	amount, before, after = decimal.Zero, decimal.Zero, decimal.Zero
	for _, entry := range plan {
		amount = amount.Add(entry.Amount)
		before = before.Add(entry.BalanceBefore)
		after = after.Add(entry.BalanceAfter)
	}
	return amount, before, after
}

func splitByPool(plan []PlannedAllocation) (refunds []PlannedAllocation, packages []PlannedAllocation) {
	for _, entry := range plan {
		if entry.Pool == PoolRefund {
			refunds = append(refunds, entry)
		} else {
			packages = append(packages, entry)
		}
	}
	return refunds, packages
}
