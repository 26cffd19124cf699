package service

import (
	"testing"
	"time"

	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromLocalDateAndReferenceTime_PastDateResolvesExactly(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Reference in January: 15:30 UTC is 10:30 EST.
	reference := time.Date(2023, time.January, 15, 15, 30, 0, 0, time.UTC)
	now := time.Date(2023, time.August, 1, 0, 0, 0, 0, time.UTC)

	resolved := FromLocalDateAndReferenceTime(domain.LocalDate{Year: 2023, Month: time.July, Day: 1}, reference, loc, now)

	// July 1st 10:30 in New York is EDT, so 14:30 UTC.
	assert.Equal(t, time.Date(2023, time.July, 1, 14, 30, 0, 0, time.UTC), resolved)
}

func TestFromLocalDateAndReferenceTime_FutureClampsToNow(t *testing.T) {
	now := time.Date(2023, time.March, 10, 12, 0, 0, 0, time.UTC)
	reference := time.Date(2023, time.January, 1, 8, 0, 0, 0, time.UTC)

	resolved := FromLocalDateAndReferenceTime(domain.LocalDate{Year: 2023, Month: time.March, Day: 11}, reference, time.UTC, now)

	assert.Equal(t, now, resolved)
}

func TestFromLocalDateAndReferenceTime_SameDayBeforeReferenceHourClampsToNow(t *testing.T) {
	// Requesting today when the reference time-of-day has not happened yet
	// would land in the future; it must clamp.
	now := time.Date(2023, time.March, 10, 6, 0, 0, 0, time.UTC)
	reference := time.Date(2023, time.January, 1, 8, 0, 0, 0, time.UTC)

	resolved := FromLocalDateAndReferenceTime(domain.LocalDate{Year: 2023, Month: time.March, Day: 10}, reference, time.UTC, now)

	assert.Equal(t, now, resolved)
	assert.False(t, resolved.After(now))
}

func TestFromLocalDateAndReferenceTime_NeverAfterNow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	now := time.Date(2024, time.June, 15, 3, 0, 0, 0, time.UTC)
	reference := time.Date(2024, time.June, 1, 23, 45, 0, 0, time.UTC)

	for day := 1; day <= 30; day++ {
		resolved := FromLocalDateAndReferenceTime(domain.LocalDate{Year: 2024, Month: time.June, Day: day}, reference, loc, now)
		assert.False(t, resolved.After(now), "day %d resolved into the future", day)
	}
}

func TestResolveEffective_NilMeansNow(t *testing.T) {
	now := time.Date(2024, time.February, 2, 10, 0, 0, 0, time.UTC)
	reference := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, now, resolveEffective(nil, reference, time.UTC, now))
}

func TestParseLocalDate(t *testing.T) {
	date, err := domain.ParseLocalDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, domain.LocalDate{Year: 2024, Month: time.February, Day: 29}, date)
	assert.Equal(t, "2024-02-29", date.String())

	_, err = domain.ParseLocalDate("02/29/2024")
	assert.ErrorIs(t, err, domain.ErrInvalidLocalDate)
}
