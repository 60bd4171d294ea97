package ledger

import "time"

const (
	operationBalance        = "balance"
	operationWallet         = "wallet"
	operationUsage          = "usage"
	operationPurchase       = "purchase"
	operationRefund         = "refund"
	operationPartialRefund  = "partial_refund"
	operationAdjustment     = "adjustment"
	operationCancelSlot     = "cancel_slot"
	operationApproveSlot    = "approve_slot"
	operationRejectSlot     = "reject_slot"
	operationCancelBooking  = "cancel_booking"
	operationCheckout       = "checkout"
	operationReservationAdd = "reservation_create"
	operationReservationDel = "reservation_delete"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultLeadTimeHours is the minimum notice for customer cancellations.
	DefaultLeadTimeHours = 72
	// DefaultFanOutLimit bounds concurrent per-slot calls.
	DefaultFanOutLimit = 8

	partialRefundExpiryMonths = 1
	fullRefundExpiryMonths    = 6

	partialRefundTitle = "Partial Cancellation Refund"

	actorSystem   = "system"
	actorCustomer = "customer"

	slotDateLayout = "2006-01-02"
)

var slotStartLayouts = []string{"3pm", "3:04pm", "15:04"}

// CancellableMethods lists payment methods a customer may cancel.
var CancellableMethods = []string{PaymentMethodPayNow, PaymentMethodCreditCard, PaymentMethodCredit}

func defaultClock() time.Time {
	return time.Now().UTC()
}
