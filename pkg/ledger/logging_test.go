package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestServiceLogsPurchaseOperation(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newMemoryStore(), WithOperationLogger(logger))
	customer := mustCustomer(test, "user-1")

	if _, err := service.RecordPurchase(context.Background(), customer, decimal.NewFromInt(100), "pkg-1"); err != nil {
		test.Fatalf("record purchase: %v", err)
	}
	logged := logger.operations(operationPurchase)
	if len(logged) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logged))
	}
	entry := logged[0]
	if entry.UserKey != "user-1" || entry.SourceKey != "pkg-1" || !entry.Amount.Equal(decimal.NewFromInt(100)) {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	store.failOn("InsertTransaction", errors.New("boom"))
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.RecordPurchase(context.Background(), mustCustomer(test, "user-1"), decimal.NewFromInt(100), "pkg-1")
	if err == nil {
		test.Fatalf("expected error")
	}
	logged := logger.operations(operationPurchase)
	if len(logged) != 1 || logged[0].Status != operationStatusError || logged[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logged)
	}
}

func TestNewServiceValidatesConfiguration(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		store   Store
		options []ServiceOption
	}{
		{name: "nil store"},
		{name: "nil location", store: newMemoryStore(), options: []ServiceOption{WithLocation(nil)}},
		{name: "nil reservations", store: newMemoryStore(), options: []ServiceOption{WithReservationSystem(nil)}},
		{name: "negative lead time", store: newMemoryStore(), options: []ServiceOption{WithLeadTimeHours(-1)}},
		{name: "zero fan-out", store: newMemoryStore(), options: []ServiceOption{WithFanOutLimit(0)}},
		{name: "unknown policy", store: newMemoryStore(), options: []ServiceOption{WithCancellationPolicy("manual")}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewService(testCase.store, nil, testCase.options...); !errors.Is(err, ErrInvalidServiceConfig) {
				test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
			}
		})
	}
}
