package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and form layout of an expense date.
const DateLayout = "2006-01-02"

// MaxDescriptionLength bounds the description of a single expense.
const MaxDescriptionLength = 200

type (
	Date struct {
		time.Time
	}

	// Expense is a single ledger entry. ID is assigned once at creation and
	// never reused, so it stays valid while the visible list is filtered.
	Expense struct {
		ID          string
		Date        Date
		Description string
		Amount      decimal.Decimal
	}
)

var (
	ErrEmptyDescription = errors.New("empty description")
	ErrLongDescription  = errors.New("description too long (max 200 characters)")
	ErrEmptyDate        = errors.New("empty date")
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyAmount      = errors.New("empty amount")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrMissingID        = errors.New("missing id")
)

// NewID returns a fresh expense identifier.
func NewID() string {
	return uuid.NewString()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrEmptyDate
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// YearMonth returns the month the date falls in.
func (d Date) YearMonth() YearMonth {
	return YearMonthOf(d.Time)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrEmptyDate
	}
	return nil
}

// NewExpense builds an expense from raw form text. Every failing field is
// reported in the returned *ValidationError, not only the first one.
func NewExpense(id, description, date, amount string) (Expense, error) {
	var verr ValidationError

	description = strings.TrimSpace(description)
	switch {
	case description == "":
		verr.Add(FieldDescription, ErrEmptyDescription)
	case len(description) > MaxDescriptionLength:
		verr.Add(FieldDescription, ErrLongDescription)
	}

	d, err := ParseDate(date)
	if err != nil {
		verr.Add(FieldDate, err)
	}

	amt, err := ParseAmount(amount)
	if err != nil {
		verr.Add(FieldAmount, err)
	}

	if verr.HasErrors() {
		return Expense{}, &verr
	}

	return Expense{
		ID:          id,
		Date:        d,
		Description: description,
		Amount:      amt,
	}, nil
}

// Validate checks an already-built expense, e.g. one decoded from storage.
func (e Expense) Validate() error {
	var verr ValidationError
	if strings.TrimSpace(e.ID) == "" {
		verr.Add(FieldID, ErrMissingID)
	}
	if strings.TrimSpace(e.Description) == "" {
		verr.Add(FieldDescription, ErrEmptyDescription)
	} else if len(e.Description) > MaxDescriptionLength {
		verr.Add(FieldDescription, ErrLongDescription)
	}
	if err := e.Date.Validate(); err != nil {
		verr.Add(FieldDate, err)
	}
	if !e.Amount.IsPositive() {
		verr.Add(FieldAmount, ErrInvalidAmount)
	}
	if verr.HasErrors() {
		return &verr
	}
	return nil
}

// Equal reports whether two expenses carry the same values.
func (e Expense) Equal(o Expense) bool {
	return e.ID == o.ID &&
		e.Description == o.Description &&
		e.Date.Equal(o.Date.Time) &&
		e.Amount.Equal(o.Amount)
}
