package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectSource      = "credit_source"
	errorSubjectTransaction = "transaction"
	errorSubjectAllocation  = "allocation"
	errorSubjectBooking     = "booking"
	errorSubjectSlot        = "slot"
	errorSubjectInvoice     = "invoice"
	errorSubjectSchema      = "schema"
	errorCodeArchive        = "archive"
	errorCodeDecode         = "decode"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeEncode         = "encode"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeList           = "list"
	errorCodeMigrate        = "migrate"
	errorCodeUpdate         = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table the store reads and writes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&CreditTransaction{},
		&PackageAllocation{},
		&Booking{},
		&CancelledBooking{},
		&BookedSlot{},
		&CancelledSlot{},
		&Invoice{},
	); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	for _, table := range []string{tableCreditPackages, tableCreditRefunds} {
		if err := db.Table(table).AutoMigrate(&CreditSource{}); err != nil {
			return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
		}
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ListTransactions(ctx context.Context, userKey ledger.UserKey) ([]ledger.Transaction, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_key = ?", userKey.String()).
		Order("occurred_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeDecode, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) (string, error) {
	slots, err := encodeJSON(transaction.Slots)
	if err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeEncode, err)
	}
	slotKeys, err := encodeJSON(transaction.SlotKeys)
	if err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeEncode, err)
	}
	row := CreditTransaction{
		TransactionID: transaction.ID,
		UserKey:       transaction.UserKey,
		Email:         transaction.Email,
		Name:          transaction.Name,
		Contact:       transaction.Contact,
		Type:          string(transaction.Type),
		CreditType:    string(transaction.CreditType),
		Amount:        transaction.Amount,
		BalanceBefore: transaction.BalanceBefore,
		BalanceAfter:  transaction.BalanceAfter,
		Timestamp:     transaction.Timestamp.UTC(),
		Description:   transaction.Description,
		Notes:         transaction.Notes,
		CreatedBy:     transaction.CreatedBy,
		BookingKey:    transaction.BookingKey,
		PackageKey:    transaction.PackageKey,
		BookingDate:   transaction.BookingDate,
		Location:      transaction.Location,
		Slots:         slots,
		SlotKeys:      slotKeys,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapInsertError(errorSubjectTransaction, err)
	}
	return row.TransactionID, nil
}

func (store *Store) InsertAllocation(ctx context.Context, allocation ledger.Allocation) (string, error) {
	row := PackageAllocation{
		AllocationID:         allocation.ID,
		TransactionID:        allocation.TransactionID,
		PackageKey:           allocation.PackageKey,
		Collection:           string(allocation.Collection),
		Amount:               allocation.Amount,
		PackageBalanceBefore: allocation.PackageBalanceBefore,
		PackageBalanceAfter:  allocation.PackageBalanceAfter,
		Timestamp:            allocation.Timestamp.UTC(),
		UserKey:              allocation.UserKey,
		Email:                allocation.Email,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapInsertError(errorSubjectAllocation, err)
	}
	return row.AllocationID, nil
}

func (store *Store) ListAllocations(ctx context.Context, transactionID string) ([]ledger.Allocation, error) {
	var rows []PackageAllocation
	err := store.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("occurred_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAllocation, errorCodeList, err)
	}
	allocations := make([]ledger.Allocation, 0, len(rows))
	for _, row := range rows {
		allocations = append(allocations, ledger.Allocation{
			ID:                   row.AllocationID,
			TransactionID:        row.TransactionID,
			PackageKey:           row.PackageKey,
			Collection:           ledger.Collection(row.Collection),
			Amount:               row.Amount,
			PackageBalanceBefore: row.PackageBalanceBefore,
			PackageBalanceAfter:  row.PackageBalanceAfter,
			Timestamp:            row.Timestamp,
			UserKey:              row.UserKey,
			Email:                row.Email,
		})
	}
	return allocations, nil
}

func (store *Store) ListCreditSources(ctx context.Context, collection ledger.Collection, userKey ledger.UserKey) ([]ledger.CreditSource, error) {
	table, err := sourceTable(collection)
	if err != nil {
		return nil, err
	}
	var rows []CreditSource
	err = store.db.WithContext(ctx).
		Table(table).
		Where("user_key = ?", userKey.String()).
		Order("submitted_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSource, errorCodeList, err)
	}
	sources := make([]ledger.CreditSource, 0, len(rows))
	for _, row := range rows {
		sources = append(sources, mapCreditSource(row, collection))
	}
	return sources, nil
}

func (store *Store) GetCreditSource(ctx context.Context, collection ledger.Collection, key string) (ledger.CreditSource, error) {
	table, err := sourceTable(collection)
	if err != nil {
		return ledger.CreditSource{}, err
	}
	var row CreditSource
	err = store.db.WithContext(ctx).
		Table(table).
		Where("source_key = ?", key).
		Take(&row).Error
	if err != nil {
		return ledger.CreditSource{}, wrapLookupError(errorSubjectSource, ledger.ErrSourceNotFound, err)
	}
	return mapCreditSource(row, collection), nil
}

func (store *Store) InsertCreditSource(ctx context.Context, source ledger.CreditSource) (string, error) {
	table, err := sourceTable(source.Collection)
	if err != nil {
		return "", err
	}
	creditsLeft := source.CreditsLeft
	row := CreditSource{
		SourceKey:          source.Key,
		UserKey:            source.UserKey,
		Email:              source.Email,
		Name:               source.Name,
		Contact:            source.Contact,
		Title:              source.Title,
		Value:              source.Value,
		CreditsLeft:        &creditsLeft,
		ExpiryDate:         source.ExpiryDate.UTC(),
		SubmittedDate:      source.SubmittedDate.UTC(),
		PaymentMethod:      source.PaymentMethod,
		PaymentStatus:      source.PaymentStatus,
		SportType:          source.SportType,
		OriginalBookingKey: source.OriginalBookingKey,
		InvoiceKey:         source.InvoiceKey,
		CancelledBy:        source.CancelledBy,
		CancelledDate:      timePointer(source.CancelledDate),
	}
	if err := store.db.WithContext(ctx).Table(table).Create(&row).Error; err != nil {
		return "", wrapInsertError(errorSubjectSource, err)
	}
	return row.SourceKey, nil
}

func (store *Store) UpdateCreditsLeft(ctx context.Context, collection ledger.Collection, key string, from, to decimal.Decimal) error {
	table, err := sourceTable(collection)
	if err != nil {
		return err
	}
	result := store.db.WithContext(ctx).
		Table(table).
		Where("source_key = ?", key).
		Where("(credits_left = ? OR (credits_left IS NULL AND value = ?))", from, from).
		Update("credits_left", to)
	if result.Error != nil {
		return wrapStoreError(errorSubjectSource, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := store.GetCreditSource(ctx, collection, key); err != nil {
		return err
	}
	return wrapStoreError(errorSubjectSource, errorCodeUpdate, fmt.Errorf("%w: credits left of %s changed", ledger.ErrConcurrentModification, key))
}

func (store *Store) GetBooking(ctx context.Context, key ledger.BookingKey) (ledger.Booking, error) {
	var row Booking
	err := store.db.WithContext(ctx).
		Clauses(store.lockingClause()...).
		Where("booking_key = ?", key.String()).
		Take(&row).Error
	if err != nil {
		return ledger.Booking{}, wrapLookupError(errorSubjectBooking, ledger.ErrBookingNotFound, err)
	}
	booking, err := mapBooking(row)
	if err != nil {
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeDecode, err)
	}
	return booking, nil
}

func (store *Store) InsertBooking(ctx context.Context, booking ledger.Booking) (string, error) {
	row, err := bookingRow(booking)
	if err != nil {
		return "", wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapInsertError(errorSubjectBooking, err)
	}
	return row.BookingKey, nil
}

func (store *Store) UpdateBooking(ctx context.Context, booking ledger.Booking) error {
	row, err := bookingRow(booking)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_key = ?", booking.Key).
		Select("*").
		Omit("booking_key").
		Updates(&row)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, ledger.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) DeleteBooking(ctx context.Context, key ledger.BookingKey) error {
	err := store.db.WithContext(ctx).
		Where("booking_key = ?", key.String()).
		Delete(&Booking{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeDelete, err)
	}
	return nil
}

// ArchiveBooking copies the booking into cancelled_bookings, replacing an
// earlier archive of the same key.
func (store *Store) ArchiveBooking(ctx context.Context, booking ledger.Booking, cancellation ledger.Cancellation) error {
	row, err := bookingRow(booking)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	archived := CancelledBooking{
		Booking:       row,
		CancelledBy:   cancellation.CancelledBy,
		CancelledDate: cancellation.CancelledDate.UTC(),
		Reason:        cancellation.Reason,
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "booking_key"}}, UpdateAll: true}).
		Create(&archived).Error
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeArchive, err)
	}
	return nil
}

func (store *Store) GetSlot(ctx context.Context, key ledger.SlotKey) (ledger.BookedSlot, error) {
	var row BookedSlot
	err := store.db.WithContext(ctx).
		Where("slot_key = ?", key.String()).
		Take(&row).Error
	if err != nil {
		return ledger.BookedSlot{}, wrapLookupError(errorSubjectSlot, ledger.ErrSlotNotFound, err)
	}
	return mapSlot(row), nil
}

func (store *Store) InsertSlot(ctx context.Context, slot ledger.BookedSlot) (string, error) {
	row := slotRow(slot)
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapInsertError(errorSubjectSlot, err)
	}
	return row.SlotKey, nil
}

func (store *Store) DeleteSlot(ctx context.Context, key ledger.SlotKey) error {
	err := store.db.WithContext(ctx).
		Where("slot_key = ?", key.String()).
		Delete(&BookedSlot{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeDelete, err)
	}
	return nil
}

// ArchiveSlot copies the slot into cancelled_slots, replacing an earlier
// archive of the same key.
func (store *Store) ArchiveSlot(ctx context.Context, slot ledger.BookedSlot, cancellation ledger.Cancellation) error {
	archived := CancelledSlot{
		BookedSlot:    slotRow(slot),
		CancelledBy:   cancellation.CancelledBy,
		CancelledDate: cancellation.CancelledDate.UTC(),
		Reason:        cancellation.Reason,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slot_key"}}, UpdateAll: true}).
		Create(&archived).Error
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeArchive, err)
	}
	return nil
}

func (store *Store) GetInvoice(ctx context.Context, key string) (ledger.Invoice, error) {
	var row Invoice
	err := store.db.WithContext(ctx).
		Where("invoice_key = ?", key).
		Take(&row).Error
	if err != nil {
		return ledger.Invoice{}, wrapLookupError(errorSubjectInvoice, ledger.ErrInvoiceNotFound, err)
	}
	return ledger.Invoice{
		Key:                row.InvoiceKey,
		PaymentMethod:      row.PaymentMethod,
		PaymentStatus:      row.PaymentStatus,
		CreditRefundKey:    row.CreditRefundKey,
		OriginalBookingKey: row.OriginalBookingKey,
	}, nil
}

// InsertInvoice registers an invoice issued by the billing flow.
func (store *Store) InsertInvoice(ctx context.Context, invoice ledger.Invoice) (string, error) {
	row := Invoice{
		InvoiceKey:         invoice.Key,
		PaymentMethod:      invoice.PaymentMethod,
		PaymentStatus:      invoice.PaymentStatus,
		CreditRefundKey:    invoice.CreditRefundKey,
		OriginalBookingKey: invoice.OriginalBookingKey,
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapInsertError(errorSubjectInvoice, err)
	}
	return row.InvoiceKey, nil
}

func (store *Store) UpdateInvoice(ctx context.Context, invoice ledger.Invoice) error {
	result := store.db.WithContext(ctx).
		Model(&Invoice{}).
		Where("invoice_key = ?", invoice.Key).
		Updates(map[string]interface{}{
			"payment_method":       invoice.PaymentMethod,
			"payment_status":       invoice.PaymentStatus,
			"credit_refund_key":    invoice.CreditRefundKey,
			"original_booking_key": invoice.OriginalBookingKey,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectInvoice, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInvoice, errorCodeUpdate, ledger.ErrInvoiceNotFound)
	}
	return nil
}

// lockingClause takes a row lock on Postgres; SQLite serializes writers on
// its own and rejects FOR UPDATE.
func (store *Store) lockingClause() []clause.Expression {
	if store.db.Dialector == nil || store.db.Dialector.Name() != "postgres" {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}

func sourceTable(collection ledger.Collection) (string, error) {
	switch collection {
	case ledger.CollectionPackages:
		return tableCreditPackages, nil
	case ledger.CollectionRefunds:
		return tableCreditRefunds, nil
	default:
		return "", wrapStoreError(errorSubjectSource, errorCodeGet, fmt.Errorf("%w: %q", ledger.ErrInvalidCollection, collection))
	}
}

func mapCreditSource(row CreditSource, collection ledger.Collection) ledger.CreditSource {
	creditsLeft := row.Value
	if row.CreditsLeft != nil {
		creditsLeft = *row.CreditsLeft
	}
	pool := ledger.PoolPackage
	if collection == ledger.CollectionRefunds || row.PaymentMethod == ledger.PaymentMethodRefund {
		pool = ledger.PoolRefund
	}
	return ledger.CreditSource{
		Key:                row.SourceKey,
		Collection:         collection,
		Pool:               pool,
		UserKey:            row.UserKey,
		Email:              row.Email,
		Name:               row.Name,
		Contact:            row.Contact,
		Title:              row.Title,
		Value:              row.Value,
		CreditsLeft:        creditsLeft,
		ExpiryDate:         row.ExpiryDate,
		SubmittedDate:      row.SubmittedDate,
		PaymentMethod:      row.PaymentMethod,
		PaymentStatus:      row.PaymentStatus,
		SportType:          row.SportType,
		OriginalBookingKey: row.OriginalBookingKey,
		InvoiceKey:         row.InvoiceKey,
		CancelledBy:        row.CancelledBy,
		CancelledDate:      timeOrZero(row.CancelledDate),
	}
}

func mapTransaction(row CreditTransaction) (ledger.Transaction, error) {
	var slots []ledger.SlotSnapshot
	if err := decodeJSON(row.Slots, &slots); err != nil {
		return ledger.Transaction{}, err
	}
	var slotKeys []string
	if err := decodeJSON(row.SlotKeys, &slotKeys); err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:            row.TransactionID,
		UserKey:       row.UserKey,
		Email:         row.Email,
		Name:          row.Name,
		Contact:       row.Contact,
		Type:          ledger.TransactionType(row.Type),
		CreditType:    ledger.CreditType(row.CreditType),
		Amount:        row.Amount,
		BalanceBefore: row.BalanceBefore,
		BalanceAfter:  row.BalanceAfter,
		Timestamp:     row.Timestamp,
		Description:   row.Description,
		Notes:         row.Notes,
		CreatedBy:     row.CreatedBy,
		BookingKey:    row.BookingKey,
		PackageKey:    row.PackageKey,
		BookingDate:   row.BookingDate,
		Location:      row.Location,
		Slots:         slots,
		SlotKeys:      slotKeys,
	}, nil
}

func bookingRow(booking ledger.Booking) (Booking, error) {
	slots, err := encodeJSON(booking.Slots)
	if err != nil {
		return Booking{}, err
	}
	cancelledSlots, err := encodeJSON(booking.CancelledSlots)
	if err != nil {
		return Booking{}, err
	}
	partialCancellations, err := encodeJSON(booking.PartialCancellations)
	if err != nil {
		return Booking{}, err
	}
	pendingSlots, err := encodeJSON(booking.PendingCancelledSlots)
	if err != nil {
		return Booking{}, err
	}
	pendingReasons, err := encodeJSON(booking.PendingReasons)
	if err != nil {
		return Booking{}, err
	}
	return Booking{
		BookingKey:            booking.Key,
		UserKey:               booking.UserKey,
		Email:                 booking.Email,
		Name:                  booking.Name,
		Contact:               booking.Contact,
		Location:              booking.Location,
		Date:                  booking.Date,
		SportType:             booking.SportType,
		Slots:                 slots,
		Subtotal:              booking.Subtotal,
		Discount:              booking.Discount,
		Total:                 booking.Total,
		GST:                   booking.GST,
		TransactionFee:        booking.TransactionFee,
		TotalPayable:          booking.TotalPayable,
		PromoCode:             booking.PromoCode,
		PaymentMethod:         booking.PaymentMethod,
		PaymentStatus:         booking.PaymentStatus,
		InvoiceKey:            booking.InvoiceKey,
		SubmittedDate:         booking.SubmittedDate.UTC(),
		CancelledSlots:        cancelledSlots,
		RefundAmount:          booking.RefundAmount,
		PartialCancellations:  partialCancellations,
		PendingCancelledSlots: pendingSlots,
		PendingReasons:        pendingReasons,
	}, nil
}

func mapBooking(row Booking) (ledger.Booking, error) {
	booking := ledger.Booking{
		Key:            row.BookingKey,
		UserKey:        row.UserKey,
		Email:          row.Email,
		Name:           row.Name,
		Contact:        row.Contact,
		Location:       row.Location,
		Date:           row.Date,
		SportType:      row.SportType,
		Subtotal:       row.Subtotal,
		Discount:       row.Discount,
		Total:          row.Total,
		GST:            row.GST,
		TransactionFee: row.TransactionFee,
		TotalPayable:   row.TotalPayable,
		PromoCode:      row.PromoCode,
		PaymentMethod:  row.PaymentMethod,
		PaymentStatus:  row.PaymentStatus,
		InvoiceKey:     row.InvoiceKey,
		SubmittedDate:  row.SubmittedDate,
		RefundAmount:   row.RefundAmount,
	}
	if err := decodeJSON(row.Slots, &booking.Slots); err != nil {
		return ledger.Booking{}, err
	}
	if err := decodeJSON(row.CancelledSlots, &booking.CancelledSlots); err != nil {
		return ledger.Booking{}, err
	}
	if err := decodeJSON(row.PartialCancellations, &booking.PartialCancellations); err != nil {
		return ledger.Booking{}, err
	}
	if err := decodeJSON(row.PendingCancelledSlots, &booking.PendingCancelledSlots); err != nil {
		return ledger.Booking{}, err
	}
	if err := decodeJSON(row.PendingReasons, &booking.PendingReasons); err != nil {
		return ledger.Booking{}, err
	}
	return booking, nil
}

func slotRow(slot ledger.BookedSlot) BookedSlot {
	return BookedSlot{
		SlotKey:         slot.Key,
		BookingKey:      slot.BookingKey,
		InvoiceKey:      slot.InvoiceKey,
		Location:        slot.Location,
		Email:           slot.Email,
		Name:            slot.Name,
		Contact:         slot.Contact,
		Date:            slot.Date,
		Pitch:           slot.Pitch,
		Start:           slot.Start,
		End:             slot.End,
		Rate:            slot.Rate,
		Duration:        slot.Duration,
		Type:            slot.Type,
		PaymentMethod:   slot.PaymentMethod,
		PaymentStatus:   slot.PaymentStatus,
		SportType:       slot.SportType,
		AutomatePitchID: slot.AutomatePitchID,
		SubmittedDate:   slot.SubmittedDate.UTC(),
	}
}

func mapSlot(row BookedSlot) ledger.BookedSlot {
	return ledger.BookedSlot{
		Key:             row.SlotKey,
		BookingKey:      row.BookingKey,
		InvoiceKey:      row.InvoiceKey,
		Location:        row.Location,
		Email:           row.Email,
		Name:            row.Name,
		Contact:         row.Contact,
		Date:            row.Date,
		Pitch:           row.Pitch,
		Start:           row.Start,
		End:             row.End,
		Rate:            row.Rate,
		Duration:        row.Duration,
		Type:            row.Type,
		PaymentMethod:   row.PaymentMethod,
		PaymentStatus:   row.PaymentStatus,
		SportType:       row.SportType,
		AutomatePitchID: row.AutomatePitchID,
		SubmittedDate:   row.SubmittedDate,
	}
}

func encodeJSON(value interface{}) (datatypes.JSON, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON(raw datatypes.JSON, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return *value
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapLookupError(subject string, notFound error, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(subject, errorCodeGet, notFound)
	}
	return wrapStoreError(subject, errorCodeGet, err)
}

func wrapInsertError(subject string, err error) error {
	if isUniqueConflict(err) {
		return wrapStoreError(subject, errorCodeDuplicate, fmt.Errorf("%w: %w", ledger.ErrConcurrentModification, err))
	}
	return wrapStoreError(subject, errorCodeInsert, err)
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
