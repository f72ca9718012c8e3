package ledger

import (
	"errors"

	"gastos/internal/core"
)

// FormState is the visibility of the add/edit form.
type FormState int

const (
	FormClosed FormState = iota
	FormOpen
)

func (s FormState) String() string {
	if s == FormOpen {
		return "open"
	}
	return "closed"
}

// FormMode tells whether saving the draft appends or replaces.
type FormMode int

const (
	ModeCreate FormMode = iota
	ModeEdit
)

func (m FormMode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

var (
	ErrFormClosed   = errors.New("form is not open")
	ErrUnknownField = errors.New("unknown form field")
)

// Draft is the raw text of the record being created or edited. Nothing is
// parsed until the draft is saved.
type Draft struct {
	Description string
	Date        string
	Amount      string
}

// DraftOf copies e into editable text fields.
func DraftOf(e core.Expense) Draft {
	return Draft{
		Description: e.Description,
		Date:        e.Date.String(),
		Amount:      e.Amount.StringFixed(core.AmountPlaces),
	}
}

// Set updates one field by name.
func (d *Draft) Set(field, value string) error {
	switch field {
	case core.FieldDescription:
		d.Description = value
	case core.FieldDate:
		d.Date = value
	case core.FieldAmount:
		d.Amount = value
	default:
		return ErrUnknownField
	}
	return nil
}

// Form is the draft controller: Closed -> Open(create|edit) -> Closed.
// It is not safe for concurrent use; Store serialises access to it.
type Form struct {
	state   FormState
	mode    FormMode
	editing string
	draft   Draft
	errs    *core.ValidationError
}

// OpenNew opens the form with an empty draft in create mode.
func (f *Form) OpenNew() {
	*f = Form{state: FormOpen, mode: ModeCreate}
}

// OpenEdit opens the form on a copy of e. The ledger entry itself is left
// untouched until the draft is saved.
func (f *Form) OpenEdit(e core.Expense) {
	*f = Form{state: FormOpen, mode: ModeEdit, editing: e.ID, draft: DraftOf(e)}
}

// Update changes one draft field while the form is open.
func (f *Form) Update(field, value string) error {
	if f.state != FormOpen {
		return ErrFormClosed
	}
	return f.draft.Set(field, value)
}

// Cancel closes the form and discards the draft.
func (f *Form) Cancel() {
	*f = Form{}
}

func (f *Form) fail(verr *core.ValidationError) {
	f.errs = verr
}

func (f *Form) State() FormState { return f.state }
func (f *Form) Mode() FormMode { return f.mode }
func (f *Form) EditingID() string { return f.editing }
func (f *Form) Draft() Draft { return f.draft }
func (f *Form) IsOpen() bool { return f.state == FormOpen }

// Errors returns the failures of the last save attempt, or nil.
func (f *Form) Errors() *core.ValidationError { return f.errs }
