package intake

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/richardslaw/clio-intake/internal/clioapi"
)

// StatutePeriodYears is the fixed statutory filing deadline counted in
// calendar years from the accident date.
const StatutePeriodYears = 8

// deadlineMarker tags statute-of-limitations calendar entries so a later run
// can recognize an existing one. The remote calendar has no native uniqueness
// constraint; this marker is the idempotency guard.
const deadlineMarker = "STATUTE OF LIMITATIONS"

// DeadlineEntry is the scheduled statutory deadline for a matter.
type DeadlineEntry struct {
	MatterID        int
	Date            time.Time
	CalendarEntryID int
	// Created is false when an entry already existed and was reused.
	Created bool
}

// ParseCalendarDate parses a YYYY-MM-DD calendar date. Accident dates are
// calendar dates, not timestamps; no timezone ambiguity is tolerated.
func ParseCalendarDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid calendar date %q: %w", s, err)
	}
	return d, nil
}

// StatuteDeadline computes the statutory deadline by calendar-year addition:
// same month and day, year + 8. February 29 mapped into a non-leap target
// year rolls forward to March 1.
func StatuteDeadline(accident time.Time) time.Time {
	return time.Date(accident.Year()+StatutePeriodYears, accident.Month(), accident.Day(), 0, 0, 0, 0, time.UTC)
}

// DeadlineCalculator derives the statutory date and persists it as a calendar
// entry, exactly once per matter.
type DeadlineCalculator struct {
	api *clioapi.Client
}

// NewDeadlineCalculator creates a deadline calculator.
func NewDeadlineCalculator(api *clioapi.Client) *DeadlineCalculator {
	return &DeadlineCalculator{api: api}
}

// Schedule creates the statute-of-limitations calendar entry for the matter.
// An entry carrying the deadline marker that already exists for the matter is
// reused (Created=false) rather than duplicated; a race where a concurrent
// submission creates the entry between our check and our write resolves as
// last-write-wins and is also treated as success.
func (d *DeadlineCalculator) Schedule(ctx context.Context, accountID string, matterID int, clientName string, accidentDate time.Time, attorneyID int) (*DeadlineEntry, error) {
	existing, err := d.api.ListCalendarEntries(ctx, accountID, matterID, deadlineMarker)
	if err != nil {
		return nil, fmt.Errorf("list calendar entries: %w", err)
	}
	for _, e := range existing {
		if !strings.Contains(e.Summary, deadlineMarker) {
			continue
		}
		log.Printf("🗓️ Matter %d already has a statute deadline entry (%d), reusing", matterID, e.ID)
		entry := &DeadlineEntry{MatterID: matterID, CalendarEntryID: e.ID}
		if len(e.StartAt) >= 10 {
			if date, err := ParseCalendarDate(e.StartAt[:10]); err == nil {
				entry.Date = date
			}
		}
		return entry, nil
	}

	deadline := StatuteDeadline(accidentDate)
	ownerID, err := d.pickCalendar(ctx, accountID, attorneyID)
	if err != nil {
		return nil, err
	}

	req := clioapi.CalendarEntryRequest{
		Summary:         fmt.Sprintf("%s - %s", deadlineMarker, clientName),
		Date:            deadline,
		MatterID:        matterID,
		CalendarOwnerID: ownerID,
	}
	if attorneyID != 0 {
		req.AttendeeIDs = []int{attorneyID}
	}

	created, err := d.api.CreateCalendarEntry(ctx, accountID, req)
	if err != nil {
		return nil, fmt.Errorf("create calendar entry: %w", err)
	}
	log.Printf("✅ Scheduled statute deadline %s for matter %d (entry %d)", deadline.Format("2006-01-02"), matterID, created.ID)
	return &DeadlineEntry{
		MatterID:        matterID,
		Date:            deadline,
		CalendarEntryID: created.ID,
		Created:         true,
	}, nil
}

// pickCalendar chooses the calendar to hold the deadline: the attorney's
// writable user calendar when one exists, otherwise the first writable one.
func (d *DeadlineCalculator) pickCalendar(ctx context.Context, accountID string, attorneyID int) (int, error) {
	calendars, err := d.api.ListCalendars(ctx, accountID, true)
	if err != nil {
		return 0, fmt.Errorf("list calendars: %w", err)
	}
	if attorneyID != 0 {
		for _, cal := range calendars {
			if cal.Type == "UserCalendar" && cal.Permission == "write" {
				return cal.ID, nil
			}
		}
	}
	if len(calendars) > 0 {
		return calendars[0].ID, nil
	}
	return 0, fmt.Errorf("no writable calendars found for account %s", accountID)
}
