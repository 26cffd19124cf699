package service

import (
	"time"

	"github.com/smallbiznis/entitle/internal/entitlement/domain"
)

// FromLocalDateAndReferenceTime turns a calendar date into an instant. The
// date is interpreted in loc at the reference instant's wall-clock
// time-of-day, which keeps same-day requests aligned with the
// subscription's start instant across DST transitions instead of snapping
// to midnight. The result is clamped to now so nothing resolves into the
// future.
func FromLocalDateAndReferenceTime(requested domain.LocalDate, referenceTime time.Time, loc *time.Location, now time.Time) time.Time {
	ref := referenceTime.In(loc)
	candidate := time.Date(
		requested.Year, requested.Month, requested.Day,
		ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(),
		loc,
	).UTC()
	if candidate.After(now) {
		return now
	}
	return candidate
}

// resolveEffective applies FromLocalDateAndReferenceTime when the caller
// supplied a date, and falls back to now otherwise.
func resolveEffective(requested *domain.LocalDate, referenceTime time.Time, loc *time.Location, now time.Time) time.Time {
	if requested == nil {
		return now
	}
	return FromLocalDateAndReferenceTime(*requested, referenceTime, loc, now)
}
