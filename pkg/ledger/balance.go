package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the live, spendable view of a user's credit sources.
type Wallet struct {
	Packages             []CreditSource
	Refunds              []CreditSource
	PurchasedCreditsLeft decimal.Decimal
	RefundCreditsLeft    decimal.Decimal
	TotalCreditsLeft     decimal.Decimal
}

// ForSport narrows the wallet to sources usable for the given sport.
func (wallet Wallet) ForSport(sport string) Wallet {
	target := normalizeSport(sport)
	return newWallet(filterSport(wallet.Packages, target), filterSport(wallet.Refunds, target))
}

// Sources returns refunds followed by packages.
func (wallet Wallet) Sources() []CreditSource {
	sources := make([]CreditSource, 0, len(wallet.Refunds)+len(wallet.Packages))
	sources = append(sources, wallet.Refunds...)
	return append(sources, wallet.Packages...)
}

// CurrentBalance returns balanceAfter of the user's latest transaction.
// An empty history or a failed read yields zero.
func (service *Service) CurrentBalance(ctx context.Context, userKey UserKey) decimal.Decimal {
	return service.currentBalance(ctx, service.store, userKey)
}

func (service *Service) currentBalance(ctx context.Context, store Store, userKey UserKey) decimal.Decimal {
	transactions, err := store.ListTransactions(ctx, userKey)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationBalance,
			UserKey:   userKey.String(),
			Detail:    "balance read failed, reporting zero",
			Error:     err,
		})
		return decimal.Zero
	}
	if len(transactions) == 0 {
		return decimal.Zero
	}
	sortTransactionsNewestFirst(transactions)
	return transactions[0].BalanceAfter
}

// Wallet loads, reconciles and filters the user's credit sources.
func (service *Service) Wallet(ctx context.Context, userKey UserKey) (Wallet, error) {
	wallet, err := service.loadWallet(ctx, service.store, userKey)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationWallet, UserKey: userKey.String(), Error: err})
		return Wallet{}, err
	}
	return wallet, nil
}

func (service *Service) loadWallet(ctx context.Context, store Store, userKey UserKey) (Wallet, error) {
	packageRows, err := store.ListCreditSources(ctx, CollectionPackages, userKey)
	if err != nil {
		return Wallet{}, err
	}
	refundRows, err := store.ListCreditSources(ctx, CollectionRefunds, userKey)
	if err != nil {
		return Wallet{}, err
	}
	packages, refunds := reconcileSources(packageRows, refundRows)
	now := service.now()
	return newWallet(liveSources(packages, now), liveSources(refunds, now)), nil
}

// reconcileSources splits legacy refunds out of the packages collection and
// merges them with the refunds collection; the refunds collection wins on a
// key conflict.
func reconcileSources(packageRows []CreditSource, refundRows []CreditSource) ([]CreditSource, []CreditSource) {
	packages := make([]CreditSource, 0, len(packageRows))
	refundsByKey := make(map[string]int)
	refunds := make([]CreditSource, 0, len(refundRows))
	for _, row := range packageRows {
		source := classifySource(row, CollectionPackages)
		if source.Pool == PoolRefund {
			refundsByKey[source.Key] = len(refunds)
			refunds = append(refunds, source)
			continue
		}
		packages = append(packages, source)
	}
	for _, row := range refundRows {
		source := classifySource(row, CollectionRefunds)
		if index, exists := refundsByKey[source.Key]; exists {
			refunds[index] = source
			continue
		}
		refundsByKey[source.Key] = len(refunds)
		refunds = append(refunds, source)
	}
	return packages, refunds
}

func classifySource(source CreditSource, collection Collection) CreditSource {
	source.Collection = collection
	if collection == CollectionRefunds || source.PaymentMethod == PaymentMethodRefund {
		source.Pool = PoolRefund
	} else {
		source.Pool = PoolPackage
	}
	return source
}

func liveSources(sources []CreditSource, now time.Time) []CreditSource {
	live := make([]CreditSource, 0, len(sources))
	for _, source := range sources {
		if !source.CreditsLeft.IsPositive() || !source.IsLive(now) {
			continue
		}
		live = append(live, source)
	}
	sort.SliceStable(live, func(left, right int) bool {
		return startOfDay(live[left].ExpiryDate.In(now.Location())).Before(startOfDay(live[right].ExpiryDate.In(now.Location())))
	})
	return live
}

func newWallet(packages []CreditSource, refunds []CreditSource) Wallet {
	purchased := sumCreditsLeft(packages)
	refunded := sumCreditsLeft(refunds)
	return Wallet{
		Packages:             packages,
		Refunds:              refunds,
		PurchasedCreditsLeft: purchased,
		RefundCreditsLeft:    refunded,
		TotalCreditsLeft:     purchased.Add(refunded),
	}
}

func filterSport(sources []CreditSource, sport string) []CreditSource {
	filtered := make([]CreditSource, 0, len(sources))
	for _, source := range sources {
		if source.Sport() == sport {
			filtered = append(filtered, source)
		}
	}
	return filtered
}

func sumCreditsLeft(sources []CreditSource) decimal.Decimal {
	total := decimal.Zero
	for _, source := range sources {
		if source.CreditsLeft.IsPositive() {
			total = total.Add(source.CreditsLeft)
		}
	}
	return total
}

func sortTransactionsNewestFirst(transactions []Transaction) {
	sort.SliceStable(transactions, func(left, right int) bool {
		return transactions[left].Timestamp.After(transactions[right].Timestamp)
	})
}
