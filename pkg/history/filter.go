package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-engine/pkg/model"
)

// DateLayout is the wire format of filter dates.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidFilter is returned for unparsable filter values
	ErrInvalidFilter = errors.New("history: invalid filter")

	// ErrInvalidLimit is returned for a negative recent-transactions limit
	ErrInvalidLimit = errors.New("history: invalid limit")

	// ErrInvalidPage is returned for a page or page size out of range
	ErrInvalidPage = errors.New("history: invalid page")
)

// KindAll is the wire value that selects every transaction kind.
const KindAll = "all"

// Filter selects transactions. Zero fields match everything.
//
// StartDate and EndDate are calendar days: only their year, month and day are
// used, and the range is inclusive of both whole days in the engine's location.
// A start day after the end day matches nothing.
type Filter struct {
	Kind      model.Kind
	StartDate time.Time
	EndDate   time.Time
}

// ParseFilter builds a Filter from wire values. Empty strings, and "all" for
// the kind, leave the corresponding field unset.
func ParseFilter(kind, startDate, endDate string) (Filter, error) {
	var f Filter

	if kind = strings.TrimSpace(kind); kind != "" && !strings.EqualFold(kind, KindAll) {
		k, err := model.ParseKind(kind)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		f.Kind = k
	}

	var err error
	if f.StartDate, err = parseDate("startDate", startDate); err != nil {
		return Filter{}, err
	}
	if f.EndDate, err = parseDate("endDate", endDate); err != nil {
		return Filter{}, err
	}
	return f, f.Validate()
}

func parseDate(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not YYYY-MM-DD", ErrInvalidFilter, name, value)
	}
	return d, nil
}

// Validate checks the kind.
func (f Filter) Validate() error {
	if f.Kind != "" && !f.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidFilter, f.Kind)
	}
	return nil
}

// bounds resolves the filter dates to instants in loc: the start of the start
// day and the last millisecond of the end day. Unset dates yield zero times.
func (f Filter) bounds(loc *time.Location) (from, to time.Time) {
	if !f.StartDate.IsZero() {
		y, m, d := f.StartDate.Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	if !f.EndDate.IsZero() {
		y, m, d := f.EndDate.Date()
		to = time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
	}
	return from, to
}

// matcher is a compiled filter.
type matcher struct {
	kind     model.Kind
	from, to time.Time
}

func (f Filter) compile(loc *time.Location) matcher {
	from, to := f.bounds(loc)
	return matcher{kind: f.Kind, from: from, to: to}
}

func (m matcher) match(tx model.Transaction) bool {
	if m.kind != "" && tx.Kind != m.kind {
		return false
	}
	if !m.from.IsZero() && tx.Timestamp.Before(m.from) {
		return false
	}
	if !m.to.IsZero() && tx.Timestamp.After(m.to) {
		return false
	}
	return true
}
