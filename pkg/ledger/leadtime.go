package ledger

import (
	"fmt"
	"strings"
	"time"
)

// SlotEligibility is the verdict of CanDeleteSlot.
type SlotEligibility struct {
	CanDelete  bool
	HoursUntil int
	Reason     string
}

// CanDeleteSlot checks the slot against the cancellation lead time. Admins
// bypass the check. HoursUntil is truncated toward zero. The error is set only
// when the slot date cannot be parsed.
func (service *Service) CanDeleteSlot(slot BookedSlot, isAdmin bool) (SlotEligibility, error) {
	startsAt, err := slotStartTime(slot, service.location)
	if err != nil {
		if isAdmin {
			return SlotEligibility{CanDelete: true}, nil
		}
		return SlotEligibility{}, err
	}
	hoursUntil := int(startsAt.Sub(service.now()).Hours())
	if isAdmin {
		return SlotEligibility{CanDelete: true, HoursUntil: hoursUntil}, nil
	}
	if hoursUntil < service.leadTimeHours {
		return SlotEligibility{
			CanDelete:  false,
			HoursUntil: hoursUntil,
			Reason:     fmt.Sprintf("Cannot delete slots within %d hours of booking time. This slot is in %d hours.", service.leadTimeHours, hoursUntil),
		}, nil
	}
	return SlotEligibility{CanDelete: true, HoursUntil: hoursUntil}, nil
}

// slotStartTime combines the slot date with its start time. An unrecognized
// start falls back to midnight of the date.
func slotStartTime(slot BookedSlot, location *time.Location) (time.Time, error) {
	date := strings.TrimSpace(slot.Date)
	start := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(slot.Start)), " ", "")
	for _, layout := range slotStartLayouts {
		parsed, err := time.ParseInLocation(slotDateLayout+" "+layout, date+" "+start, location)
		if err == nil {
			return parsed, nil
		}
	}
	midnight, err := time.ParseInLocation(slotDateLayout, date, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidSlotTime, slot.Date, slot.Start)
	}
	return midnight, nil
}

func (service *Service) requireLeadTime(slot BookedSlot, isAdmin bool) error {
	eligibility, err := service.CanDeleteSlot(slot, isAdmin)
	if err != nil {
		return err
	}
	if !eligibility.CanDelete {
		return &LeadTimeError{HoursUntil: eligibility.HoursUntil, RequiredHours: service.leadTimeHours}
	}
	return nil
}
