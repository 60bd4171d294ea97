package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

type archivedBooking struct {
	booking      Booking
	cancellation Cancellation
}

type archivedSlot struct {
	slot         BookedSlot
	cancellation Cancellation
}

// memoryStore keeps everything in maps. WithTx runs fn directly, so earlier
// writes stay behind when a later step fails.
type memoryStore struct {
	mutex            sync.Mutex
	sequence         int
	transactions     []Transaction
	allocations      []Allocation
	sources          map[Collection]map[string]CreditSource
	bookings         map[string]Booking
	slots            map[string]BookedSlot
	archivedBookings map[string]archivedBooking
	archivedSlots    map[string]archivedSlot
	invoices         map[string]Invoice
	failures         map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sources: map[Collection]map[string]CreditSource{
			CollectionPackages: {},
			CollectionRefunds:  {},
		},
		bookings:         map[string]Booking{},
		slots:            map[string]BookedSlot{},
		archivedBookings: map[string]archivedBooking{},
		archivedSlots:    map[string]archivedSlot{},
		invoices:         map[string]Invoice{},
		failures:         map[string]error{},
	}
}

func (store *memoryStore) failOn(method string, err error) {
	store.failures[method] = err
}

func (store *memoryStore) failure(method string) error {
	return store.failures[method]
}

func (store *memoryStore) nextKey(prefix string) string {
	store.sequence++
	return fmt.Sprintf("%s-%d", prefix, store.sequence)
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if err := store.failure("WithTx"); err != nil {
		return err
	}
	return fn(ctx, store)
}

func (store *memoryStore) ListTransactions(ctx context.Context, userKey UserKey) ([]Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("ListTransactions"); err != nil {
		return nil, err
	}
	var transactions []Transaction
	for _, transaction := range store.transactions {
		if transaction.UserKey == userKey.String() {
			transactions = append(transactions, transaction)
		}
	}
	return transactions, nil
}

func (store *memoryStore) InsertTransaction(ctx context.Context, transaction Transaction) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("InsertTransaction"); err != nil {
		return "", err
	}
	transaction.ID = store.nextKey("txn")
	store.transactions = append(store.transactions, transaction)
	return transaction.ID, nil
}

func (store *memoryStore) InsertAllocation(ctx context.Context, allocation Allocation) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("InsertAllocation"); err != nil {
		return "", err
	}
	allocation.ID = store.nextKey("alloc")
	store.allocations = append(store.allocations, allocation)
	return allocation.ID, nil
}

func (store *memoryStore) ListAllocations(ctx context.Context, transactionID string) ([]Allocation, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var allocations []Allocation
	for _, allocation := range store.allocations {
		if allocation.TransactionID == transactionID {
			allocations = append(allocations, allocation)
		}
	}
	return allocations, nil
}

func (store *memoryStore) ListCreditSources(ctx context.Context, collection Collection, userKey UserKey) ([]CreditSource, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("ListCreditSources"); err != nil {
		return nil, err
	}
	var sources []CreditSource
	for _, source := range store.sources[collection] {
		if source.UserKey == userKey.String() {
			sources = append(sources, source)
		}
	}
	return sources, nil
}

func (store *memoryStore) GetCreditSource(ctx context.Context, collection Collection, key string) (CreditSource, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	source, ok := store.sources[collection][key]
	if !ok {
		return CreditSource{}, ErrSourceNotFound
	}
	return source, nil
}

func (store *memoryStore) InsertCreditSource(ctx context.Context, source CreditSource) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("InsertCreditSource"); err != nil {
		return "", err
	}
	if source.Key == "" {
		source.Key = store.nextKey(string(source.Collection))
	}
	store.sources[source.Collection][source.Key] = source
	return source.Key, nil
}

func (store *memoryStore) UpdateCreditsLeft(ctx context.Context, collection Collection, key string, from, to decimal.Decimal) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("UpdateCreditsLeft"); err != nil {
		return err
	}
	source, ok := store.sources[collection][key]
	if !ok {
		return ErrSourceNotFound
	}
	if !source.CreditsLeft.Equal(from) {
		return ErrConcurrentModification
	}
	source.CreditsLeft = to
	store.sources[collection][key] = source
	return nil
}

func (store *memoryStore) GetBooking(ctx context.Context, key BookingKey) (Booking, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	booking, ok := store.bookings[key.String()]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return booking, nil
}

func (store *memoryStore) InsertBooking(ctx context.Context, booking Booking) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("InsertBooking"); err != nil {
		return "", err
	}
	if booking.Key == "" {
		booking.Key = store.nextKey("booking")
	}
	store.bookings[booking.Key] = booking
	return booking.Key, nil
}

func (store *memoryStore) UpdateBooking(ctx context.Context, booking Booking) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("UpdateBooking"); err != nil {
		return err
	}
	if _, ok := store.bookings[booking.Key]; !ok {
		return ErrBookingNotFound
	}
	store.bookings[booking.Key] = booking
	return nil
}

func (store *memoryStore) DeleteBooking(ctx context.Context, key BookingKey) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.bookings, key.String())
	return nil
}

func (store *memoryStore) ArchiveBooking(ctx context.Context, booking Booking, cancellation Cancellation) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.archivedBookings[booking.Key] = archivedBooking{booking: booking, cancellation: cancellation}
	return nil
}

func (store *memoryStore) GetSlot(ctx context.Context, key SlotKey) (BookedSlot, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	slot, ok := store.slots[key.String()]
	if !ok {
		return BookedSlot{}, ErrSlotNotFound
	}
	return slot, nil
}

func (store *memoryStore) InsertSlot(ctx context.Context, slot BookedSlot) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if slot.Key == "" {
		slot.Key = store.nextKey("slot")
	}
	store.slots[slot.Key] = slot
	return slot.Key, nil
}

func (store *memoryStore) DeleteSlot(ctx context.Context, key SlotKey) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.slots, key.String())
	return nil
}

func (store *memoryStore) ArchiveSlot(ctx context.Context, slot BookedSlot, cancellation Cancellation) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("ArchiveSlot"); err != nil {
		return err
	}
	store.archivedSlots[slot.Key] = archivedSlot{slot: slot, cancellation: cancellation}
	return nil
}

func (store *memoryStore) GetInvoice(ctx context.Context, key string) (Invoice, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	invoice, ok := store.invoices[key]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return invoice, nil
}

func (store *memoryStore) UpdateInvoice(ctx context.Context, invoice Invoice) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.invoices[invoice.Key] = invoice
	return nil
}

func (store *memoryStore) addSource(source CreditSource) {
	if source.Collection == "" {
		source.Collection = CollectionPackages
	}
	store.sources[source.Collection][source.Key] = source
}

func (store *memoryStore) source(test *testing.T, collection Collection, key string) CreditSource {
	test.Helper()
	source, ok := store.sources[collection][key]
	if !ok {
		test.Fatalf("source %s/%s not found", collection, key)
	}
	return source
}

func (store *memoryStore) transactionsOfType(transactionType TransactionType) []Transaction {
	var matched []Transaction
	for _, transaction := range store.transactions {
		if transaction.Type == transactionType {
			matched = append(matched, transaction)
		}
	}
	return matched
}

type recordingReservations struct {
	mutex     sync.Mutex
	created   []ReservationSlot
	deleted   []string
	createErr error
	deleteErr error
}

func (reservations *recordingReservations) CreateSlot(ctx context.Context, slot ReservationSlot) error {
	reservations.mutex.Lock()
	defer reservations.mutex.Unlock()
	if reservations.createErr != nil {
		return reservations.createErr
	}
	reservations.created = append(reservations.created, slot)
	return nil
}

func (reservations *recordingReservations) DeleteSlot(ctx context.Context, slotKey string) error {
	reservations.mutex.Lock()
	defer reservations.mutex.Unlock()
	if reservations.deleteErr != nil {
		return reservations.deleteErr
	}
	reservations.deleted = append(reservations.deleted, slotKey)
	return nil
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations(operation string) []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	var matched []OperationLog
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return testNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserKey(test *testing.T, raw string) UserKey {
	test.Helper()
	value, err := NewUserKey(raw)
	if err != nil {
		test.Fatalf("user key: %v", err)
	}
	return value
}

func mustCustomer(test *testing.T, raw string) Customer {
	test.Helper()
	return Customer{UserKey: mustUserKey(test, raw), Email: raw + "@example.com", Name: "Player " + raw, Contact: "91234567"}
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func assertDecimal(test *testing.T, label string, expected string, actual decimal.Decimal) {
	test.Helper()
	if !actual.Equal(mustDecimal(test, expected)) {
		test.Fatalf("%s: expected %s, got %s", label, expected, actual.String())
	}
}

func packageSource(key string, userKey string, creditsLeft int64, submitted time.Time) CreditSource {
	return CreditSource{
		Key:           key,
		Collection:    CollectionPackages,
		Pool:          PoolPackage,
		UserKey:       userKey,
		Title:         "10 Hour Package",
		Value:         decimal.NewFromInt(creditsLeft),
		CreditsLeft:   decimal.NewFromInt(creditsLeft),
		ExpiryDate:    testNow.AddDate(0, 6, 0),
		SubmittedDate: submitted,
		PaymentMethod: PaymentMethodPayNow,
		PaymentStatus: PaymentStatusPaid,
		SportType:     DefaultSportType,
	}
}

func refundSource(key string, userKey string, creditsLeft int64, submitted time.Time) CreditSource {
	source := packageSource(key, userKey, creditsLeft, submitted)
	source.Collection = CollectionRefunds
	source.Pool = PoolRefund
	source.Title = partialRefundTitle
	source.PaymentMethod = PaymentMethodRefund
	return source
}

func dateOf(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 9, 0, 0, 0, time.UTC)
}

var errStoreDown = errors.New("store unavailable")
