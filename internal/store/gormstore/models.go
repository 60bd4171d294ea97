package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	tableCreditPackages    = "credit_packages"
	tableCreditRefunds     = "credit_refunds"
	tableCreditTransaction = "credit_transactions"
	tablePackageAllocation = "package_allocations"
	tableBookings          = "bookings"
	tableCancelledBookings = "cancelled_bookings"
	tableBookedSlots       = "booked_slots"
	tableCancelledSlots    = "cancelled_slots"
	tableInvoices          = "invoices"
)

// CreditSource is the row shape shared by credit_packages and credit_refunds.
// CreditsLeft is nullable: legacy rows without it are read as untouched.
type CreditSource struct {
	SourceKey          string           `gorm:"column:source_key;primaryKey;size:64"`
	UserKey            string           `gorm:"column:user_key;not null"`
	Email              string           `gorm:"column:email"`
	Name               string           `gorm:"column:name"`
	Contact            string           `gorm:"column:contact"`
	Title              string           `gorm:"column:title"`
	Value              decimal.Decimal  `gorm:"column:value;type:numeric(12,2);not null"`
	CreditsLeft        *decimal.Decimal `gorm:"column:credits_left;type:numeric(12,2)"`
	ExpiryDate         time.Time        `gorm:"column:expiry_date;not null"`
	SubmittedDate      time.Time        `gorm:"column:submitted_date;not null"`
	PaymentMethod      string           `gorm:"column:payment_method"`
	PaymentStatus      string           `gorm:"column:payment_status"`
	SportType          string           `gorm:"column:sport_type"`
	OriginalBookingKey string           `gorm:"column:original_booking_key"`
	InvoiceKey         string           `gorm:"column:invoice_key"`
	CancelledBy        string           `gorm:"column:cancelled_by"`
	CancelledDate      *time.Time       `gorm:"column:cancelled_date"`
}

func (source *CreditSource) BeforeCreate(tx *gorm.DB) error {
	if source.SourceKey == "" {
		source.SourceKey = uuid.NewString()
	}
	return nil
}

// CreditTransaction is one immutable ledger event.
type CreditTransaction struct {
	TransactionID string          `gorm:"column:transaction_id;primaryKey;size:64"`
	UserKey       string          `gorm:"column:user_key;not null;index:idx_credit_transactions_user_time,priority:1"`
	Email         string          `gorm:"column:email"`
	Name          string          `gorm:"column:name"`
	Contact       string          `gorm:"column:contact"`
	Type          string          `gorm:"column:type;not null"`
	CreditType    string          `gorm:"column:credit_type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:numeric(12,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:numeric(12,2);not null"`
	Timestamp     time.Time       `gorm:"column:occurred_at;not null;index:idx_credit_transactions_user_time,priority:2"`
	Description   string          `gorm:"column:description"`
	Notes         string          `gorm:"column:notes"`
	CreatedBy     string          `gorm:"column:created_by"`
	BookingKey    string          `gorm:"column:booking_key;index"`
	PackageKey    string          `gorm:"column:package_key"`
	BookingDate   string          `gorm:"column:booking_date"`
	Location      string          `gorm:"column:location"`
	Slots         datatypes.JSON  `gorm:"column:slots"`
	SlotKeys      datatypes.JSON  `gorm:"column:slot_keys"`
}

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

func (CreditTransaction) TableName() string {
	return tableCreditTransaction
}

// PackageAllocation attributes part of a transaction to one credit source.
type PackageAllocation struct {
	AllocationID         string          `gorm:"column:allocation_id;primaryKey;size:64"`
	TransactionID        string          `gorm:"column:transaction_id;not null;index"`
	PackageKey           string          `gorm:"column:package_key;not null;index"`
	Collection           string          `gorm:"column:collection;not null"`
	Amount               decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	PackageBalanceBefore decimal.Decimal `gorm:"column:package_balance_before;type:numeric(12,2);not null"`
	PackageBalanceAfter  decimal.Decimal `gorm:"column:package_balance_after;type:numeric(12,2);not null"`
	Timestamp            time.Time       `gorm:"column:occurred_at;not null"`
	UserKey              string          `gorm:"column:user_key;not null"`
	Email                string          `gorm:"column:email"`
}

func (allocation *PackageAllocation) BeforeCreate(tx *gorm.DB) error {
	if allocation.AllocationID == "" {
		allocation.AllocationID = uuid.NewString()
	}
	return nil
}

func (PackageAllocation) TableName() string {
	return tablePackageAllocation
}

// Booking is the live booking row; list fields are JSON arrays.
type Booking struct {
	BookingKey            string          `gorm:"column:booking_key;primaryKey;size:64"`
	UserKey               string          `gorm:"column:user_key;not null;index"`
	Email                 string          `gorm:"column:email"`
	Name                  string          `gorm:"column:name"`
	Contact               string          `gorm:"column:contact"`
	Location              string          `gorm:"column:location"`
	Date                  string          `gorm:"column:date"`
	SportType             string          `gorm:"column:sport_type"`
	Slots                 datatypes.JSON  `gorm:"column:slots"`
	Subtotal              decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Discount              decimal.Decimal `gorm:"column:discount;type:numeric(12,2);not null"`
	Total                 decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	GST                   decimal.Decimal `gorm:"column:gst;type:numeric(12,2);not null"`
	TransactionFee        decimal.Decimal `gorm:"column:transaction_fee;type:numeric(12,2);not null"`
	TotalPayable          decimal.Decimal `gorm:"column:total_payable;type:numeric(12,2);not null"`
	PromoCode             string          `gorm:"column:promo_code"`
	PaymentMethod         string          `gorm:"column:payment_method"`
	PaymentStatus         string          `gorm:"column:payment_status"`
	InvoiceKey            string          `gorm:"column:invoice_key"`
	SubmittedDate         time.Time       `gorm:"column:submitted_date;not null"`
	CancelledSlots        datatypes.JSON  `gorm:"column:cancelled_slots"`
	RefundAmount          decimal.Decimal `gorm:"column:refund_amount;type:numeric(12,2);not null"`
	PartialCancellations  datatypes.JSON  `gorm:"column:partial_cancellations"`
	PendingCancelledSlots datatypes.JSON  `gorm:"column:pending_cancelled_slots"`
	PendingReasons        datatypes.JSON  `gorm:"column:pending_reasons"`
}

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingKey == "" {
		booking.BookingKey = uuid.NewString()
	}
	return nil
}

func (Booking) TableName() string {
	return tableBookings
}

// CancelledBooking archives a booking removed by full cancellation.
type CancelledBooking struct {
	Booking       `gorm:"embedded"`
	CancelledBy   string    `gorm:"column:cancelled_by"`
	CancelledDate time.Time `gorm:"column:cancelled_date;not null"`
	Reason        string    `gorm:"column:reason"`
}

func (CancelledBooking) TableName() string {
	return tableCancelledBookings
}

// BookedSlot is one reservable slot of a live booking.
type BookedSlot struct {
	SlotKey         string          `gorm:"column:slot_key;primaryKey;size:64"`
	BookingKey      string          `gorm:"column:booking_key;not null;index"`
	InvoiceKey      string          `gorm:"column:invoice_key"`
	Location        string          `gorm:"column:location"`
	Email           string          `gorm:"column:email"`
	Name            string          `gorm:"column:name"`
	Contact         string          `gorm:"column:contact"`
	Date            string          `gorm:"column:date"`
	Pitch           string          `gorm:"column:pitch"`
	Start           string          `gorm:"column:start_time"`
	End             string          `gorm:"column:end_time"`
	Rate            decimal.Decimal `gorm:"column:rate;type:numeric(12,2);not null"`
	Duration        float64         `gorm:"column:duration"`
	Type            string          `gorm:"column:type"`
	PaymentMethod   string          `gorm:"column:payment_method"`
	PaymentStatus   string          `gorm:"column:payment_status"`
	SportType       string          `gorm:"column:sport_type"`
	AutomatePitchID string          `gorm:"column:automate_pitch_id"`
	SubmittedDate   time.Time       `gorm:"column:submitted_date;not null"`
}

func (slot *BookedSlot) BeforeCreate(tx *gorm.DB) error {
	if slot.SlotKey == "" {
		slot.SlotKey = uuid.NewString()
	}
	return nil
}

func (BookedSlot) TableName() string {
	return tableBookedSlots
}

// CancelledSlot archives a slot removed by cancellation.
type CancelledSlot struct {
	BookedSlot    `gorm:"embedded"`
	CancelledBy   string    `gorm:"column:cancelled_by"`
	CancelledDate time.Time `gorm:"column:cancelled_date;not null"`
	Reason        string    `gorm:"column:reason"`
}

func (CancelledSlot) TableName() string {
	return tableCancelledSlots
}

// Invoice keeps the invoice fields cancellation rewrites.
type Invoice struct {
	InvoiceKey         string    `gorm:"column:invoice_key;primaryKey;size:64"`
	PaymentMethod      string    `gorm:"column:payment_method"`
	PaymentStatus      string    `gorm:"column:payment_status"`
	CreditRefundKey    string    `gorm:"column:credit_refund_key"`
	OriginalBookingKey string    `gorm:"column:original_booking_key"`
	CreatedAt          time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (invoice *Invoice) BeforeCreate(tx *gorm.DB) error {
	if invoice.InvoiceKey == "" {
		invoice.InvoiceKey = uuid.NewString()
	}
	return nil
}

func (Invoice) TableName() string {
	return tableInvoices
}
