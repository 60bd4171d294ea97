package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UsageContext links a usage event to the booking that consumed the credits.
type UsageContext struct {
	BookingKey  string
	SlotKeys    []string
	Slots       []SlotSnapshot
	BookingDate string
	Location    string
	SportType   string
}

// UsageRecord is the input to RecordUsage. When Plan is nil it is computed
// from Sources with Allocate.
type UsageRecord struct {
	Customer Customer
	Amount   decimal.Decimal
	Sources  []CreditSource
	Plan     []PlannedAllocation
	Booking  UsageContext
}

// RefundRecord is the input to RecordRefund and RecordPartialRefund.
type RefundRecord struct {
	Customer        Customer
	BookingKey      string
	SlotKeys        []string
	Amount          decimal.Decimal
	RefundSourceKey string
	Reason          string
	Actor           string
}

// Adjustment is a manual correction of one source's remaining credits.
type Adjustment struct {
	Customer    Customer
	Collection  Collection
	SourceKey   string
	CreditsLeft decimal.Decimal
	Reason      string
	Actor       string
}

// RecordUsage writes one USAGE transaction per drawn pool, its allocations,
// and the matching creditsLeft decrements.
func (service *Service) RecordUsage(ctx context.Context, record UsageRecord) ([]Transaction, error) {
	var transactions []Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		recorded, err := service.recordUsage(ctx, transactionStore, record)
		transactions = recorded
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUsage,
		UserKey:    record.Customer.UserKey.String(),
		BookingKey: record.Booking.BookingKey,
		Amount:     record.Amount,
		Error:      operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return transactions, nil
}

func (service *Service) recordUsage(ctx context.Context, store Store, record UsageRecord) ([]Transaction, error) {
	if _, err := NewPositiveAmount(record.Amount); err != nil {
		return nil, err
	}
	if err := validateSport(record.Booking.SportType, record.Sources, record.Plan); err != nil {
		return nil, err
	}
	plan := record.Plan
	if plan == nil {
		packages, refunds := splitSources(record.Sources)
		computed, err := Allocate(record.Amount, packages, refunds)
		if err != nil {
			return nil, err
		}
		plan = computed
	}
	if err := validatePlan(record.Amount, plan); err != nil {
		return nil, err
	}

	timestamp := service.now()
	refundPlan, packagePlan := splitByPool(plan)
	transactions := make([]Transaction, 0, 2)
	writes := 0
	for _, group := range []struct {
		pool  Pool
		label string
		plan  []PlannedAllocation
	}{
		{pool: PoolRefund, label: "refund credits", plan: refundPlan},
		{pool: PoolPackage, label: "purchased credits", plan: packagePlan},
	} {
		if len(group.plan) == 0 {
			continue
		}
		amount, before, after := sumPlanned(group.plan)
		transaction := Transaction{
			UserKey:       record.Customer.UserKey.String(),
			Email:         record.Customer.Email,
			Name:          record.Customer.Name,
			Contact:       record.Customer.Contact,
			Type:          TransactionUsage,
			CreditType:    group.pool.CreditType(),
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Timestamp:     timestamp,
			Description:   fmt.Sprintf("Booking at %s on %s - $%s (%s)", record.Booking.Location, record.Booking.BookingDate, amount.Abs().String(), group.label),
			BookingKey:    record.Booking.BookingKey,
			BookingDate:   record.Booking.BookingDate,
			Location:      record.Booking.Location,
			Slots:         record.Booking.Slots,
			SlotKeys:      record.Booking.SlotKeys,
		}
		transactionID, err := store.InsertTransaction(ctx, transaction)
		if err != nil {
			return nil, partialWrite("insert usage transaction", writes, err)
		}
		writes++
		transaction.ID = transactionID
		for _, entry := range group.plan {
			allocation := Allocation{
				TransactionID:        transactionID,
				PackageKey:           entry.SourceKey,
				Collection:           entry.Collection,
				Amount:               entry.Amount,
				PackageBalanceBefore: entry.BalanceBefore,
				PackageBalanceAfter:  entry.BalanceAfter,
				Timestamp:            timestamp,
				UserKey:              record.Customer.UserKey.String(),
				Email:                record.Customer.Email,
			}
			if _, err := store.InsertAllocation(ctx, allocation); err != nil {
				return nil, partialWrite("insert usage allocation", writes, err)
			}
			writes++
			if err := store.UpdateCreditsLeft(ctx, entry.Collection, entry.SourceKey, entry.BalanceBefore, entry.BalanceAfter); err != nil {
				return nil, partialWrite("decrement credits left", writes, err)
			}
			writes++
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// RecordPurchase writes the PURCHASE transaction for a newly bought package.
func (service *Service) RecordPurchase(ctx context.Context, customer Customer, amount decimal.Decimal, packageKey string) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		recorded, err := service.recordPurchase(ctx, transactionStore, customer, amount, packageKey)
		transaction = recorded
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPurchase,
		UserKey:   customer.UserKey.String(),
		SourceKey: packageKey,
		Amount:    amount,
		Error:     operationError,
	})
	return transaction, operationError
}

func (service *Service) recordPurchase(ctx context.Context, store Store, customer Customer, amount decimal.Decimal, packageKey string) (Transaction, error) {
	if _, err := NewPositiveAmount(amount); err != nil {
		return Transaction{}, err
	}
	if packageKey == "" {
		return Transaction{}, fmt.Errorf("%w: empty package key", ErrSourceNotFound)
	}
	balanceBefore := service.currentBalance(ctx, store, customer.UserKey)
	transaction := Transaction{
		UserKey:       customer.UserKey.String(),
		Email:         customer.Email,
		Name:          customer.Name,
		Contact:       customer.Contact,
		Type:          TransactionPurchase,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceBefore.Add(amount),
		Timestamp:     service.now(),
		PackageKey:    packageKey,
		Description:   fmt.Sprintf("Purchased credit package - $%s", amount.String()),
	}
	return service.insertCredited(ctx, store, transaction, CollectionPackages, packageKey)
}

// RecordRefund writes the REFUND transaction for a full booking cancellation.
// The refund opens a fresh pool, so the balance runs from zero to amount.
func (service *Service) RecordRefund(ctx context.Context, record RefundRecord) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		recorded, err := service.recordRefund(ctx, transactionStore, record)
		transaction = recorded
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationRefund,
		UserKey:    record.Customer.UserKey.String(),
		BookingKey: record.BookingKey,
		SourceKey:  record.RefundSourceKey,
		Amount:     record.Amount,
		Actor:      record.Actor,
		Error:      operationError,
	})
	return transaction, operationError
}

func (service *Service) recordRefund(ctx context.Context, store Store, record RefundRecord) (Transaction, error) {
	if _, err := NewPositiveAmount(record.Amount); err != nil {
		return Transaction{}, err
	}
	transaction := Transaction{
		UserKey:       record.Customer.UserKey.String(),
		Email:         record.Customer.Email,
		Name:          record.Customer.Name,
		Contact:       record.Customer.Contact,
		Type:          TransactionRefund,
		Amount:        record.Amount,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  record.Amount,
		Timestamp:     service.now(),
		BookingKey:    record.BookingKey,
		PackageKey:    record.RefundSourceKey,
		SlotKeys:      record.SlotKeys,
		Description:   fmt.Sprintf("Refund for booking cancellation - $%s", record.Amount.String()),
		Notes:         record.Reason,
		CreatedBy:     record.Actor,
	}
	return service.insertCredited(ctx, store, transaction, CollectionRefunds, record.RefundSourceKey)
}

// RecordPartialRefund writes the PARTIAL_REFUND transaction for one cancelled slot.
func (service *Service) RecordPartialRefund(ctx context.Context, record RefundRecord) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		recorded, err := service.recordPartialRefund(ctx, transactionStore, record)
		transaction = recorded
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationPartialRefund,
		UserKey:    record.Customer.UserKey.String(),
		BookingKey: record.BookingKey,
		SourceKey:  record.RefundSourceKey,
		Amount:     record.Amount,
		Actor:      record.Actor,
		Error:      operationError,
	})
	return transaction, operationError
}

func (service *Service) recordPartialRefund(ctx context.Context, store Store, record RefundRecord) (Transaction, error) {
	if _, err := NewPositiveAmount(record.Amount); err != nil {
		return Transaction{}, err
	}
	balanceBefore := service.currentBalance(ctx, store, record.Customer.UserKey)
	transaction := Transaction{
		UserKey:       record.Customer.UserKey.String(),
		Email:         record.Customer.Email,
		Name:          record.Customer.Name,
		Contact:       record.Customer.Contact,
		Type:          TransactionPartialRefund,
		Amount:        record.Amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceBefore.Add(record.Amount),
		Timestamp:     service.now(),
		BookingKey:    record.BookingKey,
		PackageKey:    record.RefundSourceKey,
		SlotKeys:      record.SlotKeys,
		Description:   fmt.Sprintf("Partial refund for slot cancellation - $%s", record.Amount.String()),
		Notes:         record.Reason,
		CreatedBy:     record.Actor,
	}
	return service.insertCredited(ctx, store, transaction, CollectionRefunds, record.RefundSourceKey)
}

// insertCredited writes a credit-in transaction and its single allocation
// against a source that starts at zero.
func (service *Service) insertCredited(ctx context.Context, store Store, transaction Transaction, collection Collection, sourceKey string) (Transaction, error) {
	transactionID, err := store.InsertTransaction(ctx, transaction)
	if err != nil {
		return Transaction{}, err
	}
	transaction.ID = transactionID
	allocation := Allocation{
		TransactionID:        transactionID,
		PackageKey:           sourceKey,
		Collection:           collection,
		Amount:               transaction.Amount,
		PackageBalanceBefore: decimal.Zero,
		PackageBalanceAfter:  transaction.Amount,
		Timestamp:            transaction.Timestamp,
		UserKey:              transaction.UserKey,
		Email:                transaction.Email,
	}
	if _, err := store.InsertAllocation(ctx, allocation); err != nil {
		return Transaction{}, partialWrite("insert credit allocation", 1, err)
	}
	return transaction, nil
}

// AdjustCredits sets a source's remaining credits and records the ADJUSTMENT.
func (service *Service) AdjustCredits(ctx context.Context, adjustment Adjustment) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		recorded, err := service.adjustCredits(ctx, transactionStore, adjustment)
		transaction = recorded
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAdjustment,
		UserKey:   adjustment.Customer.UserKey.String(),
		SourceKey: adjustment.SourceKey,
		Amount:    adjustment.CreditsLeft,
		Actor:     adjustment.Actor,
		Error:     operationError,
	})
	return transaction, operationError
}

func (service *Service) adjustCredits(ctx context.Context, store Store, adjustment Adjustment) (Transaction, error) {
	source, err := store.GetCreditSource(ctx, adjustment.Collection, adjustment.SourceKey)
	if err != nil {
		return Transaction{}, err
	}
	source = classifySource(source, adjustment.Collection)
	if source.UserKey != adjustment.Customer.UserKey.String() {
		return Transaction{}, fmt.Errorf("%w: source %s belongs to another user", ErrSourceNotFound, adjustment.SourceKey)
	}
	if adjustment.CreditsLeft.IsNegative() || adjustment.CreditsLeft.GreaterThan(source.Value) {
		return Transaction{}, fmt.Errorf("%w: credits left must be between 0 and %s", ErrInvalidAmount, source.Value.String())
	}
	delta := adjustment.CreditsLeft.Sub(source.CreditsLeft)
	if delta.IsZero() {
		return Transaction{}, fmt.Errorf("%w: adjustment does not change the balance", ErrInvalidAmount)
	}
	timestamp := service.now()
	transaction := Transaction{
		UserKey:       adjustment.Customer.UserKey.String(),
		Email:         adjustment.Customer.Email,
		Name:          adjustment.Customer.Name,
		Contact:       adjustment.Customer.Contact,
		Type:          TransactionAdjustment,
		CreditType:    source.Pool.CreditType(),
		Amount:        delta,
		BalanceBefore: source.CreditsLeft,
		BalanceAfter:  adjustment.CreditsLeft,
		Timestamp:     timestamp,
		PackageKey:    source.Key,
		Description:   fmt.Sprintf("Manual adjustment of %s - $%s", source.Key, delta.String()),
		Notes:         adjustment.Reason,
		CreatedBy:     adjustment.Actor,
	}
	transactionID, err := store.InsertTransaction(ctx, transaction)
	if err != nil {
		return Transaction{}, err
	}
	transaction.ID = transactionID
	allocation := Allocation{
		TransactionID:        transactionID,
		PackageKey:           source.Key,
		Collection:           adjustment.Collection,
		Amount:               delta,
		PackageBalanceBefore: source.CreditsLeft,
		PackageBalanceAfter:  adjustment.CreditsLeft,
		Timestamp:            timestamp,
		UserKey:              transaction.UserKey,
		Email:                transaction.Email,
	}
	if _, err := store.InsertAllocation(ctx, allocation); err != nil {
		return Transaction{}, partialWrite("insert adjustment allocation", 1, err)
	}
	if err := store.UpdateCreditsLeft(ctx, adjustment.Collection, source.Key, source.CreditsLeft, adjustment.CreditsLeft); err != nil {
		return Transaction{}, partialWrite("update credits left", 2, err)
	}
	return transaction, nil
}

func validateSport(bookingSport string, sources []CreditSource, plan []PlannedAllocation) error {
	if bookingSport == "" {
		return nil
	}
	target := normalizeSport(bookingSport)
	for _, source := range sources {
		if source.Sport() != target {
			return fmt.Errorf("%w: cannot use %s credits from %s for %s booking", ErrSportMismatch, source.Sport(), source.Key, target)
		}
	}
	for _, entry := range plan {
		if entry.SportType != "" && normalizeSport(entry.SportType) != target {
			return fmt.Errorf("%w: cannot use %s credits from %s for %s booking", ErrSportMismatch, normalizeSport(entry.SportType), entry.SourceKey, target)
		}
	}
	return nil
}

func validatePlan(amount decimal.Decimal, plan []PlannedAllocation) error {
	total := decimal.Zero
	for _, entry := range plan {
		if !entry.Amount.IsNegative() {
			return fmt.Errorf("%w: allocation for %s must be negative", ErrInvalidAllocationPlan, entry.SourceKey)
		}
		if !entry.BalanceBefore.Add(entry.Amount).Equal(entry.BalanceAfter) || entry.BalanceAfter.IsNegative() {
			return fmt.Errorf("%w: allocation for %s does not balance", ErrInvalidAllocationPlan, entry.SourceKey)
		}
		if entry.Pool != PoolRefund && entry.Pool != PoolPackage {
			return fmt.Errorf("%w: unknown pool %q", ErrInvalidAllocationPlan, entry.Pool)
		}
		total = total.Add(entry.Amount.Neg())
	}
	if !total.Equal(amount) {
		return fmt.Errorf("%w: plan covers %s of %s", ErrInvalidAllocationPlan, total.String(), amount.String())
	}
	return nil
}

func splitSources(sources []CreditSource) (packages []CreditSource, refunds []CreditSource) {
	for _, source := range sources {
		if source.Pool == PoolRefund {
			refunds = append(refunds, source)
		} else {
			packages = append(packages, source)
		}
	}
	return packages, refunds
}

func addMonths(moment time.Time, months int) time.Time {
	return moment.AddDate(0, months, 0)
}
