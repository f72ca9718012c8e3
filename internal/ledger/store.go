// Package ledger holds the expense ledger state: the ordered record list,
// the month filter, the add/edit draft and the derived total.
//
// All writes go through Store methods, which validate input, persist the
// whole list through a storage.BlobStore and notify an optional Notifier.
// The presentation layer only ever sees copies via Snapshot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/storage"
)

// DefaultKey is the storage key the ledger blob lives under.
const DefaultKey = "gastos"

var ErrNotFound = errors.New("expense not found")

// LoadWarning reports a stored ledger that could not be read in full. It is
// not fatal: the store keeps whatever could be recovered (possibly nothing).
type LoadWarning struct {
	Key     string
	Skipped int
	Err     error
}

func (w *LoadWarning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("stored ledger %q is unreadable, starting empty: %v", w.Key, w.Err)
	}
	return fmt.Sprintf("stored ledger %q had %d invalid entries, skipped", w.Key, w.Skipped)
}

func (w *LoadWarning) Unwrap() error { return w.Err }

// Change describes a committed mutation.
type Change struct {
	Op    string
	ID    string
	Count int
	At    time.Time
}

const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
	OpReload = "reload"
)

// Notifier is told about every committed mutation. Errors are logged and
// never undo the mutation.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

// Store owns the ledger. It is safe for concurrent use; every intent runs
// under one mutex, so each mutation is atomic with respect to the others.
// The Notifier is called after the mutex is released, so a slow broker
// never holds up readers or other writers.
type Store struct {
	mu sync.Mutex

	blobs    storage.BlobStore
	key      string
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
	newID    func() string

	records []core.Expense
	filter  core.YearMonth
	form    Form
	warning *LoadWarning
}

type Option func(*Store)

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// WithClock replaces time.Now, which decides the initial month filter.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces core.NewID.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New returns an empty store filtered on the current month. Call Load to
// read the persisted ledger.
func New(blobs storage.BlobStore, key string, opts ...Option) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		blobs:  blobs,
		key:    key,
		logger: log.Discard().WithComponent(log.ComponentLedger),
		now:    time.Now,
		newID:  core.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.filter = core.YearMonthOf(s.now())
	return s
}

// Key returns the storage key of the ledger blob.
func (s *Store) Key() string { return s.key }

// Load replaces the in-memory ledger with the persisted one. A missing blob
// gives an empty ledger. A malformed blob also gives an empty ledger, and
// Load returns a *LoadWarning; any other error comes from storage and leaves
// the ledger unchanged.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Reload re-reads the blob, e.g. after another process rewrote it. The
// filter and the open form are kept.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	err := s.loadLocked(ctx)
	count := len(s.records)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ctx, Change{Op: OpReload, Count: count})
	return nil
}

func (s *Store) loadLocked(ctx context.Context) error {
	data, ok, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	s.warning = nil
	if !ok {
		s.records = nil
		s.logger.InfoContext(ctx, "No stored ledger, starting empty", log.FieldKey, s.key)
		return nil
	}

	res, err := Decode(data, s.newID)
	if err != nil {
		s.records = nil
		s.warning = &LoadWarning{Key: s.key, Err: err}
		s.logger.WarnContext(ctx, "Stored ledger is malformed, starting empty",
			log.FieldKey, s.key, log.FieldError, err, log.FieldOperation, log.OpLoad)
		return s.warning
	}

	s.records = res.Expenses
	s.logger.InfoContext(ctx, "Ledger loaded", log.FieldKey, s.key, log.FieldCount, len(s.records))

	if res.Reassigned > 0 {
		if err := s.persist(ctx, s.records); err != nil {
			s.logger.WarnContext(ctx, "Failed to persist reassigned ids", log.FieldError, err)
		}
	}
	if res.Skipped > 0 {
		s.warning = &LoadWarning{Key: s.key, Skipped: res.Skipped}
		s.logger.WarnContext(ctx, "Skipped invalid stored entries",
			log.FieldKey, s.key, log.FieldCount, res.Skipped, log.FieldOperation, log.OpLoad)
		return s.warning
	}
	return nil
}

// Add validates d and appends it as a new record. It is the direct form of
// OpenNew + Update + Save: the draft is cleared and the form closed on
// success. On a validation failure the ledger is unchanged and the returned
// error is a *core.ValidationError.
func (s *Store) Add(ctx context.Context, d Draft) (core.Expense, error) {
	s.mu.Lock()
	s.form.OpenNew()
	s.form.draft = d
	e, c, err := s.saveLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return core.Expense{}, err
	}
	s.notify(ctx, c)
	return e, nil
}

// OpenNew opens the form with an empty draft.
func (s *Store) OpenNew() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.OpenNew()
}

// Edit opens the form on a copy of the record with id. The record stays in
// the ledger until Save replaces it; Cancel leaves it untouched.
func (s *Store) Edit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	s.form.OpenEdit(s.records[i])
	return nil
}

// UpdateDraft sets one draft field to raw text.
func (s *Store) UpdateDraft(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Update(field, value)
}

// Cancel closes the form, discarding the draft.
func (s *Store) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.Cancel()
}

// Save commits the open draft: appended in create mode, replaced in place
// (same ID and position) in edit mode. A validation failure keeps the form
// open with the errors attached. The returned Change tells which of the two
// happened, as decided under the same lock as the write.
func (s *Store) Save(ctx context.Context) (core.Expense, Change, error) {
	s.mu.Lock()
	e, c, err := s.saveLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return core.Expense{}, Change{}, err
	}
	s.notify(ctx, c)
	return e, c, nil
}

func (s *Store) saveLocked(ctx context.Context) (core.Expense, Change, error) {
	if !s.form.IsOpen() {
		return core.Expense{}, Change{}, ErrFormClosed
	}

	id := s.form.EditingID()
	if s.form.Mode() == ModeCreate {
		id = s.newID()
	}
	d := s.form.Draft()
	e, err := core.NewExpense(id, d.Description, d.Date, d.Amount)
	if err != nil {
		verr, _ := core.AsValidationError(err)
		s.form.fail(verr)
		s.logger.InfoContext(ctx, "Expense rejected", log.FieldError, err, log.FieldOperation, log.OpValidate)
		return core.Expense{}, Change{}, err
	}

	next := slices.Clone(s.records)
	op := OpAdd
	if s.form.Mode() == ModeEdit {
		i := s.indexOf(id)
		if i < 0 {
			return core.Expense{}, Change{}, ErrNotFound
		}
		next[i] = e
		op = OpUpdate
	} else {
		next = append(next, e)
	}

	if err := s.commit(ctx, next); err != nil {
		return core.Expense{}, Change{}, err
	}
	s.form.Cancel()

	s.logger.InfoContext(ctx, "Expense saved",
		append(log.NewFields().WithExpense(e.ID, e.Description, e.Amount).WithOperation(op).ToSlice(),
			log.FieldCount, len(s.records))...)
	return e, Change{Op: op, ID: e.ID, Count: len(s.records)}, nil
}

// Remove deletes the record with id from the full ledger, whatever the
// current filter. If that record is being edited the form is closed.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	c, err := s.removeLocked(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ctx, c)
	return nil
}

func (s *Store) removeLocked(ctx context.Context, id string) (Change, error) {
	i := s.indexOf(id)
	if i < 0 {
		return Change{}, ErrNotFound
	}
	next := slices.Delete(slices.Clone(s.records), i, i+1)
	if err := s.commit(ctx, next); err != nil {
		return Change{}, err
	}
	if s.form.IsOpen() && s.form.EditingID() == id {
		s.form.Cancel()
	}

	s.logger.InfoContext(ctx, "Expense removed",
		log.FieldExpenseID, id, log.FieldCount, len(s.records), log.FieldOperation, log.OpRemove)
	return Change{Op: OpRemove, ID: id, Count: len(s.records)}, nil
}

// SetFilter selects the month to display; "" shows everything.
func (s *Store) SetFilter(ym core.YearMonth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = ym
}

// Records returns a copy of the full, unfiltered ledger.
func (s *Store) Records() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// commit persists next and only then makes it the current ledger, so a
// failed write leaves memory and storage in agreement.
func (s *Store) commit(ctx context.Context, next []core.Expense) error {
	if err := s.persist(ctx, next); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist ledger",
			log.FieldKey, s.key, log.FieldError, err, log.FieldOperation, log.OpPersist)
		return err
	}
	s.records = next
	s.warning = nil
	return nil
}

func (s *Store) persist(ctx context.Context, records []core.Expense) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	if err := s.blobs.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// notify must be called without s.mu held.
func (s *Store) notify(ctx context.Context, c Change) {
	if s.notifier == nil {
		return
	}
	c.At = s.now()
	if err := s.notifier.Notify(ctx, c); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger change",
			log.FieldOperation, c.Op, log.FieldExpenseID, c.ID, log.FieldError, err)
	}
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.records, func(e core.Expense) bool { return e.ID == id })
}
