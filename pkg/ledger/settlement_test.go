package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// seedBooking stores a booking for user-a with one slot per start time, all
// on the given date at 40 per slot.
func seedBooking(test *testing.T, store *memoryStore, date string, starts ...string) Booking {
	test.Helper()
	booking := Booking{
		Key:           "booking-1",
		UserKey:       "user-a",
		Email:         "user-a@example.com",
		Name:          "Player user-a",
		Location:      "Kallang",
		Date:          date,
		SportType:     "futsal",
		PaymentMethod: PaymentMethodPayNow,
		PaymentStatus: PaymentStatusPaid,
		InvoiceKey:    "invoice-1",
		Discount:      decimal.NewFromInt(10),
		SubmittedDate: dateOf(2, 1),
	}
	for index, start := range starts {
		slot := BookedSlot{
			Key:        "slot-" + string(rune('a'+index)),
			BookingKey: booking.Key,
			Location:   booking.Location,
			Email:      booking.Email,
			Date:       date,
			Pitch:      "Pitch 1",
			Start:      start,
			End:        start,
			Rate:       decimal.NewFromInt(40),
			Duration:   1,
			Type:       "Peak",
			SportType:  "futsal",
		}
		store.slots[slot.Key] = slot
		booking.Slots = append(booking.Slots, slot.Key)
		booking.Subtotal = booking.Subtotal.Add(slot.Rate)
	}
	store.bookings[booking.Key] = booking
	store.invoices["invoice-1"] = Invoice{Key: "invoice-1", PaymentMethod: PaymentMethodPayNow, PaymentStatus: PaymentStatusPaid}
	return booking
}

func TestCancelLastSlotRequiresFullCancellation(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm")
	service := mustNewService(test, store)

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a"})
	if err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	if result.Outcome != OutcomeFullCancellationRequired {
		test.Fatalf("expected full cancellation redirect, got %s", result.Outcome)
	}
	if len(store.transactions) != 0 || len(store.archivedSlots) != 0 || len(store.sources[CollectionRefunds]) != 0 {
		test.Fatalf("expected no writes for the last slot")
	}
	if _, ok := store.slots["slot-a"]; !ok {
		test.Fatalf("expected slot to remain booked")
	}
}

func TestCancelSlotSettlesPartialRefund(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-05", "2pm", "3pm")
	reservations := &recordingReservations{}
	service := mustNewService(test, store, WithReservationSystem(reservations))

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a", Reason: "injury"})
	if err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	if result.Outcome != OutcomeApplied || result.RefundSourceKey == "" {
		test.Fatalf("expected applied outcome with refund source, got %+v", result)
	}
	assertDecimal(test, "refund amount", "40", result.RefundAmount)

	refunds := store.sources[CollectionRefunds]
	if len(refunds) != 1 {
		test.Fatalf("expected exactly one refund source, got %d", len(refunds))
	}
	refund := refunds[result.RefundSourceKey]
	assertDecimal(test, "refund value", "40", refund.Value)
	assertDecimal(test, "refund credits", "40", refund.CreditsLeft)
	if refund.PaymentMethod != PaymentMethodRefund || refund.PaymentStatus != PaymentStatusPaid || refund.OriginalBookingKey != "booking-1" {
		test.Fatalf("unexpected refund source: %+v", refund)
	}
	if !refund.ExpiryDate.Equal(testNow.AddDate(0, 1, 0)) {
		test.Fatalf("expected one month expiry, got %s", refund.ExpiryDate)
	}
	if refund.CancelledBy != actorCustomer {
		test.Fatalf("expected customer actor, got %q", refund.CancelledBy)
	}

	partials := store.transactionsOfType(TransactionPartialRefund)
	if len(partials) != 1 {
		test.Fatalf("expected one partial refund transaction, got %d", len(partials))
	}
	assertDecimal(test, "partial amount", "40", partials[0].Amount)

	booking := store.bookings["booking-1"]
	if booking.HasSlot("slot-a") || !containsString(booking.CancelledSlots, "slot-a") {
		test.Fatalf("expected slot moved to cancelled list, got %+v", booking)
	}
	assertDecimal(test, "booking refund total", "40", booking.RefundAmount)
	if len(booking.PartialCancellations) != 1 || booking.PartialCancellations[0].CreditRefundKey != result.RefundSourceKey {
		test.Fatalf("expected audit entry, got %+v", booking.PartialCancellations)
	}
	if _, ok := store.slots["slot-a"]; ok {
		test.Fatalf("expected live slot deleted")
	}
	if archived, ok := store.archivedSlots["slot-a"]; !ok || archived.cancellation.Reason != "injury" {
		test.Fatalf("expected archived slot with reason, got %+v", archived)
	}
	if len(reservations.deleted) != 1 || reservations.deleted[0] != "slot-a" {
		test.Fatalf("expected reservation delete, got %v", reservations.deleted)
	}
}

func TestCancelSlotEnforcesLeadTime(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-01", "8pm", "9pm")
	service := mustNewService(test, store)

	_, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a"})
	if !errors.Is(err, ErrLeadTimeViolation) {
		test.Fatalf("expected ErrLeadTimeViolation, got %v", err)
	}
	var leadTime *LeadTimeError
	if !errors.As(err, &leadTime) || leadTime.HoursUntil != 10 || leadTime.RequiredHours != DefaultLeadTimeHours {
		test.Fatalf("expected lead time detail, got %v", err)
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected no writes")
	}

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a", IsAdmin: true})
	if err != nil {
		test.Fatalf("admin cancel slot: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		test.Fatalf("expected admin cancellation applied, got %s", result.Outcome)
	}
	if archived := store.archivedSlots["slot-a"]; archived.cancellation.CancelledBy != actorSystem {
		test.Fatalf("expected system actor, got %q", archived.cancellation.CancelledBy)
	}
}

func TestCancelSlotValidatesMembership(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm")
	service := mustNewService(test, store)
	testCases := []struct {
		name       string
		bookingKey string
		slotKey    string
		expected   error
	}{
		{name: "unknown booking", bookingKey: "missing", slotKey: "slot-a", expected: ErrBookingNotFound},
		{name: "foreign slot", bookingKey: "booking-1", slotKey: "slot-z", expected: ErrSlotNotInBooking},
		{name: "empty slot key", bookingKey: "booking-1", slotKey: " ", expected: ErrInvalidSlotKey},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: testCase.bookingKey, SlotKey: testCase.slotKey})
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestApprovalPolicyQueuesCustomerRequests(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm", "8pm")
	service := mustNewService(test, store, WithCancellationPolicy(PolicyApproval))

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a"})
	if err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	if result.Outcome != OutcomePending {
		test.Fatalf("expected pending outcome, got %s", result.Outcome)
	}
	if !store.bookings["booking-1"].IsPending("slot-a") || len(store.transactions) != 0 {
		test.Fatalf("expected pending request without ledger writes")
	}

	approved, err := service.ApproveSlotCancellation(context.Background(), "booking-1", "slot-a", "admin@example.com")
	if err != nil {
		test.Fatalf("approve: %v", err)
	}
	if approved.Outcome != OutcomeApplied {
		test.Fatalf("expected applied outcome, got %s", approved.Outcome)
	}
	booking := store.bookings["booking-1"]
	if booking.IsPending("slot-a") || booking.HasSlot("slot-a") {
		test.Fatalf("expected approved slot removed from pending and active lists, got %+v", booking)
	}

	if _, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-b"}); err != nil {
		test.Fatalf("cancel second slot: %v", err)
	}
	rejected, err := service.RejectSlotCancellation(context.Background(), "booking-1", "slot-b", "admin@example.com", "too late")
	if err != nil {
		test.Fatalf("reject: %v", err)
	}
	if rejected.Outcome != OutcomeRejected {
		test.Fatalf("expected rejected outcome, got %s", rejected.Outcome)
	}
	booking = store.bookings["booking-1"]
	if booking.IsPending("slot-b") || !booking.HasSlot("slot-b") {
		test.Fatalf("expected rejected slot to stay booked, got %+v", booking)
	}
	if _, err := service.ApproveSlotCancellation(context.Background(), "booking-1", "slot-b", "admin@example.com"); !errors.Is(err, ErrSlotNotPending) {
		test.Fatalf("expected ErrSlotNotPending, got %v", err)
	}
	if len(store.transactionsOfType(TransactionPartialRefund)) != 1 {
		test.Fatalf("expected only the approved slot refunded")
	}
}

func TestApprovalPolicyKeepsCustomerReason(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm", "8pm")
	service := mustNewService(test, store, WithCancellationPolicy(PolicyApproval))

	for _, slotKey := range []string{"slot-a", "slot-b"} {
		if _, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: slotKey, Actor: "user-a", Reason: "injured"}); err != nil {
			test.Fatalf("cancel %s: %v", slotKey, err)
		}
	}
	if reason := store.bookings["booking-1"].PendingReasons["slot-a"]; reason != "injured" {
		test.Fatalf("expected stored reason, got %q", reason)
	}

	if _, err := service.ApproveSlotCancellation(context.Background(), "booking-1", "slot-a", "admin@example.com"); err != nil {
		test.Fatalf("approve: %v", err)
	}
	refunds := store.transactionsOfType(TransactionPartialRefund)
	if len(refunds) != 1 || refunds[0].Notes != "injured" {
		test.Fatalf("expected refund noted with the customer reason, got %+v", refunds)
	}
	if archived := store.archivedSlots["slot-a"]; archived.cancellation.Reason != "injured" {
		test.Fatalf("expected archived slot reason, got %+v", archived.cancellation)
	}

	if _, err := service.RejectSlotCancellation(context.Background(), "booking-1", "slot-b", "admin@example.com", "too late"); err != nil {
		test.Fatalf("reject: %v", err)
	}
	if reasons := store.bookings["booking-1"].PendingReasons; len(reasons) != 0 {
		test.Fatalf("expected settled reasons cleared, got %v", reasons)
	}
}

func TestSettleSlotOfUnpaidBookingRefundsNothing(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	booking := seedBooking(test, store, "2025-03-10", "6pm", "7pm")
	booking.PaymentStatus = PaymentStatusPending
	store.bookings[booking.Key] = booking
	service := mustNewService(test, store)

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a"})
	if err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	if result.Outcome != OutcomeApplied || !result.RefundAmount.IsZero() {
		test.Fatalf("expected applied cancellation without refund, got %+v", result)
	}
	if len(store.transactionsOfType(TransactionPartialRefund)) != 0 {
		test.Fatalf("expected no partial refund for an unpaid booking")
	}
	if _, ok := store.slots["slot-a"]; ok {
		test.Fatalf("expected slot removed")
	}
}

func TestApprovalPolicyLetsAdminsSettleImmediately(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm")
	service := mustNewService(test, store, WithCancellationPolicy(PolicyApproval))

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a", IsAdmin: true, Actor: "admin@example.com"})
	if err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		test.Fatalf("expected applied outcome, got %s", result.Outcome)
	}
}

func TestApproveLastPendingSlotRedirects(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	booking := seedBooking(test, store, "2025-03-10", "6pm")
	booking.PendingCancelledSlots = []string{"slot-a"}
	store.bookings[booking.Key] = booking
	service := mustNewService(test, store, WithCancellationPolicy(PolicyApproval))

	result, err := service.ApproveSlotCancellation(context.Background(), "booking-1", "slot-a", "admin@example.com")
	if err != nil {
		test.Fatalf("approve: %v", err)
	}
	if result.Outcome != OutcomeFullCancellationRequired {
		test.Fatalf("expected redirect, got %s", result.Outcome)
	}
}

func TestCancelSlotReportsReservationFailures(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm")
	reservations := &recordingReservations{deleteErr: errors.New("automate unavailable")}
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithReservationSystem(reservations), WithOperationLogger(logger))

	result, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a"})
	if err != nil {
		test.Fatalf("cancel slot must not fail on sync errors: %v", err)
	}
	if len(result.SyncFailures) != 1 || !errors.Is(result.SyncFailures[0], ErrExternalSync) {
		test.Fatalf("expected one external sync failure, got %v", result.SyncFailures)
	}
	if logged := logger.operations(operationReservationDel); len(logged) != 1 || logged[0].Status != operationStatusError {
		test.Fatalf("expected logged sync failure, got %+v", logged)
	}
}

func TestCancelBookingRefundsAndArchives(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm", "8pm")
	delete(store.slots, "slot-c")
	reservations := &recordingReservations{}
	service := mustNewService(test, store, WithReservationSystem(reservations))

	result, err := service.CancelBooking(context.Background(), BookingCancellation{BookingKey: "booking-1", Reason: "travel"})
	if err != nil {
		test.Fatalf("cancel booking: %v", err)
	}
	assertDecimal(test, "refund amount", "110", result.RefundAmount)
	if len(result.CancelledSlots) != 2 {
		test.Fatalf("expected the two existing slots cancelled, got %v", result.CancelledSlots)
	}
	if _, ok := store.bookings["booking-1"]; ok {
		test.Fatalf("expected live booking deleted")
	}
	if _, ok := store.archivedBookings["booking-1"]; !ok {
		test.Fatalf("expected archived booking")
	}
	if len(store.slots) != 0 || len(store.archivedSlots) != 2 {
		test.Fatalf("expected slots archived, live=%d archived=%d", len(store.slots), len(store.archivedSlots))
	}
	refund := store.source(test, CollectionRefunds, result.RefundSourceKey)
	assertDecimal(test, "refund value", "110", refund.Value)
	if !refund.ExpiryDate.Equal(testNow.AddDate(0, 6, 0)) || refund.Sport() != "futsal" {
		test.Fatalf("unexpected refund source: %+v", refund)
	}
	refunds := store.transactionsOfType(TransactionRefund)
	if len(refunds) != 1 {
		test.Fatalf("expected one refund transaction, got %d", len(refunds))
	}
	assertDecimal(test, "refund before", "0", refunds[0].BalanceBefore)
	invoice := store.invoices["invoice-1"]
	if invoice.PaymentMethod != PaymentMethodRefund || invoice.CreditRefundKey != result.RefundSourceKey {
		test.Fatalf("expected invoice marked refunded, got %+v", invoice)
	}
	if len(reservations.deleted) != 2 {
		test.Fatalf("expected two reservation deletes, got %v", reservations.deleted)
	}
}

func TestCancelBookingSubtractsEarlierPartialRefunds(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm", "7pm")
	service := mustNewService(test, store)

	if _, err := service.CancelSlot(context.Background(), SlotCancellation{BookingKey: "booking-1", SlotKey: "slot-a"}); err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	result, err := service.CancelBooking(context.Background(), BookingCancellation{BookingKey: "booking-1"})
	if err != nil {
		test.Fatalf("cancel booking: %v", err)
	}
	assertDecimal(test, "remaining refund", "30", result.RefundAmount)
}

func TestCancelBookingGuards(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		date     string
		method   string
		isAdmin  bool
		expected error
	}{
		{name: "invoice payments need an admin", date: "2025-03-10", method: "Invoice", expected: ErrNotCancellable},
		{name: "inside lead time", date: "2025-03-02", method: PaymentMethodCreditCard, expected: ErrLeadTimeViolation},
		{name: "admin bypasses both", date: "2025-03-02", method: "Invoice", isAdmin: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newMemoryStore()
			booking := seedBooking(test, store, testCase.date, "6pm")
			booking.PaymentMethod = testCase.method
			store.bookings[booking.Key] = booking
			service := mustNewService(test, store)

			_, err := service.CancelBooking(context.Background(), BookingCancellation{BookingKey: booking.Key, IsAdmin: testCase.isAdmin})
			if testCase.expected == nil {
				if err != nil {
					test.Fatalf("cancel booking: %v", err)
				}
				return
			}
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			if _, ok := store.bookings[booking.Key]; !ok {
				test.Fatalf("expected booking untouched")
			}
		})
	}
}

func TestCancelBookingToleratesMissingInvoice(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	seedBooking(test, store, "2025-03-10", "6pm")
	delete(store.invoices, "invoice-1")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	if _, err := service.CancelBooking(context.Background(), BookingCancellation{BookingKey: "booking-1"}); err != nil {
		test.Fatalf("cancel booking: %v", err)
	}
	warned := false
	for _, entry := range logger.operations(operationCancelBooking) {
		if entry.Detail != "" && entry.Error == nil {
			warned = true
		}
	}
	if !warned {
		test.Fatalf("expected missing invoice to be logged")
	}
}

func TestParseCancellationPolicy(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		raw      string
		expected CancellationPolicy
		err      error
	}{
		{raw: "", expected: PolicyImmediate},
		{raw: "Immediate", expected: PolicyImmediate},
		{raw: " approval ", expected: PolicyApproval},
		{raw: "manual", err: ErrInvalidPolicy},
	}
	for _, testCase := range testCases {
		policy, err := ParseCancellationPolicy(testCase.raw)
		if testCase.err != nil {
			if !errors.Is(err, testCase.err) {
				test.Fatalf("%q: expected %v, got %v", testCase.raw, testCase.err, err)
			}
			continue
		}
		if err != nil || policy != testCase.expected {
			test.Fatalf("%q: expected %s, got %s (%v)", testCase.raw, testCase.expected, policy, err)
		}
	}
}
