// Package ledger holds the draft offering lines of an entry session until
// they are committed. Every mutation is written through to durable staging
// so an interrupted session can be resumed.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"offertory/internal/core"
	applog "offertory/internal/log"
	"offertory/internal/report"
	"offertory/internal/staging"
)

// StagingKey is where the pending items are kept in the staging store.
const StagingKey = "pending_items"

// AddInput describes a new draft line. Amount is the raw user input and may
// contain grouping commas. Donor, when set, wins over DonorText.
type AddInput struct {
	Code      string      `json:"code"`
	CodeLabel string      `json:"codeLabel"`
	Amount    string      `json:"amount"`
	Note      string      `json:"note"`
	Donor     *core.Donor `json:"donor,omitempty"`
	DonorText string      `json:"donorText"`
}

type Ledger struct {
	mu     sync.Mutex
	store  staging.Store
	items  []core.PendingItem
	newID  func() string
	logger *slog.Logger
}

// Open loads the ledger from store, starting empty when nothing was staged.
func Open(ctx context.Context, store staging.Store) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		newID:  uuid.NewString,
		logger: applog.Component(applog.ComponentLedger),
	}
	var items []core.PendingItem
	ok, err := staging.GetJSON(ctx, store, StagingKey, &items)
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}
	if ok {
		l.items = items
		l.logger.InfoContext(ctx, "Restored pending items", applog.FieldCount, len(items))
	}
	return l, nil
}

func (l *Ledger) Add(ctx context.Context, in AddInput) (core.PendingItem, error) {
	code := core.NormalizeCode(in.Code)
	if code == "" {
		return core.PendingItem{}, core.ErrEmptyCategory
	}
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.PendingItem{}, err
	}
	note := strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(note) > 500 {
		return core.PendingItem{}, core.ErrNoteTooLong
	}

	item := core.PendingItem{
		Code:      code,
		CodeLabel: strings.TrimSpace(in.CodeLabel),
		Amount:    amount,
		Note:      note,
	}
	if item.CodeLabel == "" {
		item.CodeLabel = code
	}
	switch {
	case in.Donor != nil && strings.TrimSpace(in.Donor.Name) != "":
		item.DonorName = strings.TrimSpace(in.Donor.Name)
		item.DonorID = in.Donor.ID
		item.OfferingNumber = strings.TrimSpace(in.Donor.OfferingNumber)
	case strings.TrimSpace(in.DonorText) != "":
		item.DonorName = strings.TrimSpace(in.DonorText)
	default:
		item.DonorName = core.AnonymousName
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item.ID = l.newID()
	prev := l.items
	l.items = append(slices.Clip(prev), item)
	if err := l.persist(ctx); err != nil {
		l.items = prev
		return core.PendingItem{}, err
	}

	l.logger.DebugContext(ctx, "Pending item added",
		applog.NewFields().
			WithOperation(applog.OpAdd).
			WithOffering(item.Code, item.Amount.Cents, item.DonorName).
			ToSlice()...)
	return item, nil
}

// Remove drops the item with id. Removing an unknown id is a no-op.
func (l *Ledger) Remove(ctx context.Context, id string) error {
	return l.RemoveItems(ctx, []string{id})
}

// RemoveItems drops every item whose id is in ids.
func (l *Ledger) RemoveItems(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]core.PendingItem, 0, len(l.items))
	for _, it := range l.items {
		if _, ok := drop[it.ID]; !ok {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(l.items) {
		return nil
	}

	prev := l.items
	l.items = kept
	if err := l.persist(ctx); err != nil {
		l.items = prev
		return err
	}
	return nil
}

// Settle drops committed items. Unlike RemoveItems the in-memory removal
// stands even when staging fails, so committed lines are never offered for
// a second commit; the staging error is still returned.
func (l *Ledger) Settle(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	l.items = slices.DeleteFunc(slices.Clone(l.items), func(it core.PendingItem) bool {
		_, ok := drop[it.ID]
		return ok
	})
	if len(l.items) == 0 {
		if err := l.store.Delete(ctx, StagingKey); err != nil {
			l.logger.ErrorContext(ctx, "Failed to clear staged items", applog.FieldError, err)
			return fmt.Errorf("clear pending items: %w", err)
		}
		return nil
	}
	return l.persist(ctx)
}

// UpdateAmount replaces an item's amount from raw input. Anything other than
// digits and the decimal point is ignored; unparseable input becomes 0.
func (l *Ledger) UpdateAmount(ctx context.Context, id, raw string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.IndexFunc(l.items, func(it core.PendingItem) bool { return it.ID == id })
	if i < 0 {
		return nil
	}
	prev := slices.Clone(l.items)
	l.items[i].Amount = core.SanitizeAmount(raw)
	if err := l.persist(ctx); err != nil {
		l.items = prev
		return err
	}
	return nil
}

// Clear empties the ledger and its staged copy.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, StagingKey); err != nil {
		return fmt.Errorf("clear pending items: %w", err)
	}
	l.items = nil
	return nil
}

// Items returns the items in insertion order.
func (l *Ledger) Items() []core.PendingItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

// Recent returns the items newest first.
func (l *Ledger) Recent() []core.PendingItem {
	items := l.Items()
	slices.Reverse(items)
	return items
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *Ledger) GrandTotal() core.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total core.Money
	for _, it := range l.items {
		total = total.Add(it.Amount)
	}
	return total
}

func (l *Ledger) SummarizeByCategory() []report.CodeSummary {
	return report.SummarizeByCode(report.EntriesFromPending(l.Items()))
}

// persist writes the current items; callers hold l.mu.
func (l *Ledger) persist(ctx context.Context) error {
	if err := staging.SetJSON(ctx, l.store, StagingKey, l.items); err != nil {
		l.logger.ErrorContext(ctx, "Failed to stage pending items", applog.FieldError, err)
		return fmt.Errorf("stage pending items: %w", err)
	}
	return nil
}
