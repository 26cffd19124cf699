// Package domain defines the externally visible entitlement view and the
// engine's public surface.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
)

// State is the externally visible lifecycle state. BLOCKED is derived from
// the blocking hierarchy at read time, not stored on the subscription row.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateBlocked   State = "BLOCKED"
	StateCancelled State = "CANCELLED"
)

// LocalDate is a calendar date with no time-of-day or zone attached. The
// engine resolves it into an instant using the account's zone and the
// subscription's reference time.
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

const localDateLayout = "2006-01-02"

// ParseLocalDate parses "YYYY-MM-DD".
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(localDateLayout, s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("%w: %q", ErrInvalidLocalDate, s)
	}
	return LocalDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// LocalDateOf truncates an instant to its calendar date in loc.
func LocalDateOf(t time.Time, loc *time.Location) LocalDate {
	local := t.In(loc)
	return LocalDate{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d LocalDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d LocalDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *LocalDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = LocalDate{}
		return nil
	}
	parsed, err := ParseLocalDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Entitlement is the read model handed to callers. It mirrors one
// subscription plus state derived from the blocking hierarchy.
type Entitlement struct {
	SubscriptionID snowflake.ID                       `json:"subscription_id,string"`
	BundleID       snowflake.ID                       `json:"bundle_id,string"`
	AccountID      snowflake.ID                       `json:"account_id,string"`
	ExternalKey    string                             `json:"external_key"`
	Category       subscriptiondomain.ProductCategory `json:"category"`
	State          State                              `json:"state"`
	PlanName       string                             `json:"plan_name"`
	PhaseName      string                             `json:"phase_name,omitempty"`
	PriceList      string                             `json:"price_list,omitempty"`
	StartDate      time.Time                          `json:"start_date"`
	EffectiveEnd   *time.Time                         `json:"effective_end_date,omitempty"`
	RequestedEnd   *time.Time                         `json:"requested_end_date,omitempty"`
}
