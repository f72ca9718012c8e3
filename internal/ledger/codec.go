package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// record is the persisted shape of one expense. Amount is written as a
// quoted decimal string and read back from either a string or a number.
// It stays raw until Decode checks it, so one bad amount costs one entry.
type record struct {
	ID          string          `json:"id,omitempty"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Amount      json.RawMessage `json:"amount"`
}

// Encode serialises the ledger as a JSON array, in order.
func Encode(expenses []core.Expense) ([]byte, error) {
	out := make([]record, 0, len(expenses))
	for _, e := range expenses {
		amount, err := e.Amount.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode ledger: amount of %s: %w", e.ID, err)
		}
		out = append(out, record{
			ID:          e.ID,
			Description: e.Description,
			Date:        e.Date.String(),
			Amount:      amount,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// DecodeResult holds what Decode could recover from a blob.
type DecodeResult struct {
	Expenses []core.Expense
	// Skipped counts array elements that were not a readable expense object
	// or failed validation.
	Skipped int
	// Reassigned counts entries stored without an ID, or with an ID already
	// used by an earlier entry, that were given a fresh one.
	Reassigned int
}

// Decode parses a persisted blob. A blob that is not a JSON array is an
// error. Each element is read on its own: one that is not an object, has an
// unparseable date or amount, or fails validation is skipped and counted.
// Entries stored without a unique ID get one from newID.
func Decode(data []byte, newID func() string) (DecodeResult, error) {
	var res DecodeResult
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return res, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return res, fmt.Errorf("decode ledger: %w", err)
	}

	res.Expenses = make([]core.Expense, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, elem := range raw {
		var r record
		if err := json.Unmarshal(elem, &r); err != nil {
			res.Skipped++
			continue
		}
		d, err := core.ParseDate(r.Date)
		if err != nil {
			res.Skipped++
			continue
		}
		amount, err := decodeAmount(r.Amount)
		if err != nil {
			res.Skipped++
			continue
		}
		e := core.Expense{
			ID:          strings.TrimSpace(r.ID),
			Description: r.Description,
			Date:        d,
			Amount:      amount,
		}
		_, dup := seen[e.ID]
		missing := e.ID == "" || dup
		if missing {
			e.ID = newID()
		}
		if err := e.Validate(); err != nil {
			res.Skipped++
			continue
		}
		if missing {
			res.Reassigned++
		}
		seen[e.ID] = struct{}{}
		res.Expenses = append(res.Expenses, e)
	}
	return res, nil
}

// decodeAmount accepts a JSON string or number holding a decimal.
func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, core.ErrEmptyAmount
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, err
		}
	}
	return decimal.NewFromString(strings.TrimSpace(text))
}
