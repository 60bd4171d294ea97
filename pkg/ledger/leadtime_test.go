package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestCanDeleteSlotLeadTimeBoundary(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newMemoryStore())
	testCases := []struct {
		name          string
		date          string
		start         string
		expectedHours int
		expectDelete  bool
	}{
		{name: "exactly at lead time", date: "2025-03-04", start: "10am", expectedHours: 72, expectDelete: true},
		{name: "one hour inside", date: "2025-03-04", start: "9am", expectedHours: 71, expectDelete: false},
		{name: "half hour truncates", date: "2025-03-04", start: "9:30am", expectedHours: 71, expectDelete: false},
		{name: "upper case meridiem", date: "2025-03-04", start: "10AM", expectedHours: 72, expectDelete: true},
		{name: "twenty four hour clock", date: "2025-03-04", start: "18:00", expectedHours: 80, expectDelete: true},
		{name: "unparsable start falls back to midnight", date: "2025-03-04", start: "TBD", expectedHours: 62, expectDelete: false},
		{name: "far future", date: "2025-04-01", start: "7pm", expectedHours: 753, expectDelete: true},
		{name: "already started", date: "2025-03-01", start: "8am", expectedHours: -2, expectDelete: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			eligibility, err := service.CanDeleteSlot(BookedSlot{Date: testCase.date, Start: testCase.start}, false)
			if err != nil {
				test.Fatalf("can delete slot: %v", err)
			}
			if eligibility.HoursUntil != testCase.expectedHours {
				test.Fatalf("expected %d hours, got %d", testCase.expectedHours, eligibility.HoursUntil)
			}
			if eligibility.CanDelete != testCase.expectDelete {
				test.Fatalf("expected canDelete=%t, got %+v", testCase.expectDelete, eligibility)
			}
			if !eligibility.CanDelete && eligibility.Reason == "" {
				test.Fatalf("expected a reason for rejection")
			}
		})
	}
}

func TestCanDeleteSlotAdminBypass(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newMemoryStore())
	eligibility, err := service.CanDeleteSlot(BookedSlot{Date: "2025-03-01", Start: "8pm"}, true)
	if err != nil {
		test.Fatalf("can delete slot: %v", err)
	}
	if !eligibility.CanDelete || eligibility.HoursUntil != 10 {
		test.Fatalf("expected admin bypass with 10 hours, got %+v", eligibility)
	}
}

func TestCanDeleteSlotUsesConfiguredLocation(test *testing.T) {
	test.Parallel()
	singapore := time.FixedZone("SGT", 8*60*60)
	service := mustNewService(test, newMemoryStore(), WithLocation(singapore), WithLeadTimeHours(24))
	eligibility, err := service.CanDeleteSlot(BookedSlot{Date: "2025-03-02", Start: "6pm"}, false)
	if err != nil {
		test.Fatalf("can delete slot: %v", err)
	}
	if eligibility.HoursUntil != 24 || !eligibility.CanDelete {
		test.Fatalf("expected 24 hours in SGT, got %+v", eligibility)
	}
}

func TestCanDeleteSlotRejectsUnparsableDate(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newMemoryStore())
	if _, err := service.CanDeleteSlot(BookedSlot{Date: "someday", Start: "6pm"}, false); !errors.Is(err, ErrInvalidSlotTime) {
		test.Fatalf("expected ErrInvalidSlotTime, got %v", err)
	}
}
