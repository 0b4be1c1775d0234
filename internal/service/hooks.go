package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
)

// TerminalHook runs inside the transition transaction when an entity reaches
// APPROVED. An error aborts the whole transition.
type TerminalHook interface {
	OnApproved(ctx context.Context, store ApprovalStore, entity *database.Approvable, at time.Time) error
}

// DefaultHooks numbers approved booking orders and invoices.
func DefaultHooks() map[enum.Kind]TerminalHook {
	return map[enum.Kind]TerminalHook{
		enum.KindBookingOrder: DocumentNumberer{Prefix: enum.NumberPrefixBookingOrder},
		enum.KindInvoice:      DocumentNumberer{Prefix: enum.NumberPrefixInvoice},
	}
}

// DocumentNumberer assigns the next yearly document number to an approved
// entity, e.g. 0042/BO/X/2026. Entities that already carry a number keep it.
type DocumentNumberer struct {
	Prefix string
}

func (n DocumentNumberer) OnApproved(ctx context.Context, store ApprovalStore, entity *database.Approvable, at time.Time) error {
	if entity.DocumentNumber != "" {
		return nil
	}

	seq, err := store.NextDocumentSequence(ctx, database.NextDocumentSequenceParams{
		Prefix: n.Prefix,
		Year:   int32(at.Year()),
	})
	if err != nil {
		return fmt.Errorf("next %s sequence: %w", n.Prefix, err)
	}

	number := FormatDocumentNumber(seq, n.Prefix, at)
	if err := store.SetDocumentNumber(ctx, database.SetDocumentNumberParams{
		Kind:   entity.Kind,
		ID:     entity.ID,
		Number: number,
	}); err != nil {
		return fmt.Errorf("set document number: %w", err)
	}
	entity.DocumentNumber = number
	return nil
}

// FormatDocumentNumber renders <seq>/<prefix>/<roman month>/<year>.
func FormatDocumentNumber(seq int32, prefix string, at time.Time) string {
	return fmt.Sprintf("%04d/%s/%s/%d", seq, prefix, toRoman(int(at.Month())), at.Year())
}

var romanNumerals = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func toRoman(n int) string {
	var b strings.Builder
	for _, r := range romanNumerals {
		for n >= r.value {
			b.WriteString(r.symbol)
			n -= r.value
		}
	}
	return b.String()
}
