package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/bookingledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
)

const (
	testUserKey   = "user-a"
	testOtherUser = "user-b"
	testAdminKey  = "admin-1"
	testAdminRole = "admin"
	testIssuer    = "bookingledger-test"
	bufferSize    = 1024 * 1024
	bufnetTarget  = "passthrough:///bufnet"
	testLocation  = "Kallang"
	testSportType = "Futsal"
)

var (
	fixedNow       = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	testSigningKey = []byte("test-signing-key")
)

type testHarness struct {
	service *ledger.Service
	client  *LedgerClient
	conn    *grpc.ClientConn
}

func newTestHarness(test *testing.T) testHarness {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/ledger.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.AutoMigrate(database); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	service, err := ledger.NewService(gormstore.New(database), func() time.Time { return fixedNow })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}

	listener := bufconn.Listen(bufferSize)
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(httpapi.NewTokenParser(testSigningKey, testIssuer), testAdminRole)))
	Register(grpcServer, NewLedgerServer(service, 5*time.Second))
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	test.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient(bufnetTarget,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		test.Fatalf("grpc dial failed: %v", err)
	}
	test.Cleanup(func() { _ = conn.Close() })
	return testHarness{service: service, client: NewLedgerClient(conn), conn: conn}
}

func signToken(test *testing.T, subject string, roles ...string) string {
	test.Helper()
	claims := httpapi.Claims{
		Email: subject + "@example.com",
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return signed
}

func callerContext(test *testing.T, subject string, roles ...string) context.Context {
	test.Helper()
	return WithBearerToken(context.Background(), signToken(test, subject, roles...))
}

func mustCustomer(test *testing.T) ledger.Customer {
	test.Helper()
	userKey, err := ledger.NewUserKey(testUserKey)
	if err != nil {
		test.Fatalf("user key: %v", err)
	}
	return ledger.Customer{UserKey: userKey, Email: "user-a@example.com"}
}

func mustBooking(test *testing.T, harness testHarness, date string, start ...string) ledger.Booking {
	test.Helper()
	ctx := context.Background()
	if _, err := harness.service.AddPackage(ctx, ledger.PackagePurchase{
		Customer:      mustCustomer(test),
		Title:         "Package",
		Value:         decimal.NewFromInt(100),
		ExpiryMonths:  6,
		PaymentMethod: ledger.PaymentMethodPayNow,
	}); err != nil {
		test.Fatalf("add package: %v", err)
	}
	selections := make([]ledger.BookingSlotSelection, 0, len(start))
	for _, slotStart := range start {
		selections = append(selections, ledger.BookingSlotSelection{Pitch: "Pitch 1", Start: slotStart, Rate: decimal.NewFromInt(40), Duration: 1, Type: "Peak"})
	}
	result, err := harness.service.Checkout(ctx, ledger.CheckoutRequest{
		Customer:      mustCustomer(test),
		Location:      testLocation,
		Date:          date,
		SportType:     testSportType,
		Timeslots:     ledger.GroupedTimeslots{date: selections},
		PaymentMethod: ledger.PaymentMethodCredit,
	})
	if err != nil {
		test.Fatalf("checkout: %v", err)
	}
	return result.Booking
}

func expectCode(test *testing.T, err error, expected codes.Code) {
	test.Helper()
	if status.Code(err) != expected {
		test.Fatalf("expected %s, got %v", expected, err)
	}
}

func TestLedgerServiceOverJSONCodec(test *testing.T) {
	harness := newTestHarness(test)
	booking := mustBooking(test, harness, "2025-03-10", "6pm", "7pm")
	ctx := callerContext(test, testUserKey)

	balance, err := harness.client.GetBalance(ctx, &UserRequest{UserKey: testUserKey})
	if err != nil {
		test.Fatalf("get balance: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(20)) {
		test.Fatalf("expected balance 20, got %s", balance.Balance)
	}

	transactions, err := harness.client.ListTransactions(ctx, &UserRequest{UserKey: testUserKey})
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	if len(transactions.Transactions) != 2 {
		test.Fatalf("expected purchase and usage, got %+v", transactions.Transactions)
	}

	slotResult, err := harness.client.CancelSlot(ctx, &CancelSlotRequest{BookingKey: booking.Key, SlotKey: booking.Slots[0]})
	if err != nil {
		test.Fatalf("cancel slot: %v", err)
	}
	if slotResult.Outcome != string(ledger.OutcomeApplied) || !slotResult.RefundAmount.Equal(decimal.NewFromInt(40)) {
		test.Fatalf("unexpected slot result: %+v", slotResult)
	}

	wallet, err := harness.client.GetWallet(ctx, &UserRequest{UserKey: testUserKey})
	if err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if !wallet.RefundCreditsLeft.Equal(decimal.NewFromInt(40)) || len(wallet.Sources) != 2 {
		test.Fatalf("unexpected wallet: %+v", wallet)
	}

	bookingResult, err := harness.client.CancelBooking(ctx, &CancelBookingRequest{BookingKey: booking.Key})
	if err != nil {
		test.Fatalf("cancel booking: %v", err)
	}
	if !bookingResult.RefundAmount.Equal(decimal.NewFromInt(40)) || len(bookingResult.CancelledSlots) != 1 {
		test.Fatalf("unexpected booking result: %+v", bookingResult)
	}

	_, err = harness.client.CancelBooking(ctx, &CancelBookingRequest{BookingKey: booking.Key})
	expectCode(test, err, codes.NotFound)
}

func TestLedgerServiceErrorCodes(test *testing.T) {
	harness := newTestHarness(test)
	booking := mustBooking(test, harness, "2025-03-02", "9am", "10am")
	customer := callerContext(test, testUserKey)
	admin := callerContext(test, testAdminKey, testAdminRole)

	_, err := harness.client.GetBalance(customer, &UserRequest{UserKey: " "})
	expectCode(test, err, codes.InvalidArgument)

	_, err = harness.client.CancelSlot(customer, &CancelSlotRequest{BookingKey: booking.Key, SlotKey: booking.Slots[0]})
	expectCode(test, err, codes.FailedPrecondition)

	_, err = harness.client.CancelBooking(customer, &CancelBookingRequest{BookingKey: booking.Key})
	expectCode(test, err, codes.FailedPrecondition)

	_, err = harness.client.CancelSlot(admin, &CancelSlotRequest{BookingKey: booking.Key, SlotKey: "missing-slot"})
	expectCode(test, err, codes.InvalidArgument)

	result, err := harness.client.CancelSlot(admin, &CancelSlotRequest{BookingKey: booking.Key, SlotKey: booking.Slots[0]})
	if err != nil {
		test.Fatalf("admin cancel inside lead time: %v", err)
	}
	if result.Outcome != string(ledger.OutcomeApplied) {
		test.Fatalf("expected applied outcome, got %+v", result)
	}
}

func TestLedgerServiceRequiresAuthenticatedCaller(test *testing.T) {
	harness := newTestHarness(test)
	booking := mustBooking(test, harness, "2025-03-02", "9am", "10am")

	_, err := harness.client.GetBalance(context.Background(), &UserRequest{UserKey: testUserKey})
	expectCode(test, err, codes.Unauthenticated)

	_, err = harness.client.GetBalance(WithBearerToken(context.Background(), "not-a-jwt"), &UserRequest{UserKey: testUserKey})
	expectCode(test, err, codes.Unauthenticated)

	other := callerContext(test, testOtherUser)
	_, err = harness.client.GetWallet(other, &UserRequest{UserKey: testUserKey})
	expectCode(test, err, codes.PermissionDenied)

	_, err = harness.client.CancelBooking(other, &CancelBookingRequest{BookingKey: booking.Key})
	expectCode(test, err, codes.PermissionDenied)

	_, err = harness.client.GetWallet(callerContext(test, testAdminKey, testAdminRole), &UserRequest{UserKey: testUserKey})
	if err != nil {
		test.Fatalf("admin wallet read: %v", err)
	}
}

func TestCancelSlotIgnoresAdminFlagInBody(test *testing.T) {
	harness := newTestHarness(test)
	booking := mustBooking(test, harness, "2025-03-02", "9am", "10am")

	request := map[string]interface{}{
		"booking_key": booking.Key,
		"slot_key":    booking.Slots[0],
		"actor":       "admin@example.com",
		"is_admin":    true,
	}
	response := new(CancelSlotResponse)
	err := harness.conn.Invoke(callerContext(test, testUserKey), "/"+serviceName+"/"+methodCancelSlot, request, response, grpc.CallContentSubtype(CodecName))
	expectCode(test, err, codes.FailedPrecondition)
}

func TestMapToGRPCError(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		err      error
		expected codes.Code
	}{
		{err: ledger.ErrInvalidBookingKey, expected: codes.InvalidArgument},
		{err: ledger.ErrInvalidPaymentStatus, expected: codes.InvalidArgument},
		{err: ledger.ErrSourceNotFound, expected: codes.NotFound},
		{err: &ledger.InsufficientCreditsError{Requested: decimal.NewFromInt(3)}, expected: codes.FailedPrecondition},
		{err: ledger.ErrSlotNotPending, expected: codes.FailedPrecondition},
		{err: ledger.ErrConcurrentModification, expected: codes.Aborted},
		{err: ledger.WrapError("ledger", "refund", "partial", ledger.ErrPartialWrite), expected: codes.Internal},
		{err: context.Canceled, expected: codes.Internal},
	}
	for _, testCase := range testCases {
		if code := status.Code(mapToGRPCError(testCase.err)); code != testCase.expected {
			test.Fatalf("%v: expected %s, got %s", testCase.err, testCase.expected, code)
		}
	}
}
