// Package history is the append-only rename ledger. It is a redirect
// fallback and a best-effort audit trail, never a source of current
// truth: owners found here are always re-read from the live entity.
package history

import (
	"context"
	"log"

	"corkboard/api/internal/normalize"
)

type Store interface {
	AppendSlugHistory(ctx context.Context, projectID, oldSlug, newSlug string) error
	AppendNameHistory(ctx context.Context, boardID, projectID, oldName, newName string) error
	FindProjectIDByOldSlug(ctx context.Context, oldSlug string) (string, bool, error)
	FindBoardIDByOldName(ctx context.Context, projectID, oldName string) (string, bool, error)
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// RecordSlugChange appends a rename edge. It must never fail the
// rename it accompanies: errors are logged and swallowed.
func (l *Ledger) RecordSlugChange(ctx context.Context, projectID, oldSlug, newSlug string) {
	if normalize.IsPlaceholder(oldSlug) || normalize.IsPlaceholder(newSlug) {
		return
	}
	if err := l.store.AppendSlugHistory(ctx, projectID, oldSlug, newSlug); err != nil {
		log.Printf("history: record slug change %s: %v", projectID, err)
	}
}

// RecordNameChange appends a board rename edge, same best-effort
// contract as RecordSlugChange.
func (l *Ledger) RecordNameChange(ctx context.Context, boardID, projectID, oldName, newName string) {
	if normalize.IsPlaceholder(oldName) || normalize.IsPlaceholder(newName) {
		return
	}
	if err := l.store.AppendNameHistory(ctx, boardID, projectID, oldName, newName); err != nil {
		log.Printf("history: record name change %s: %v", boardID, err)
	}
}

// FindProjectByOldSlug returns the first project that ever held
// oldSlug. Placeholder values never match.
func (l *Ledger) FindProjectByOldSlug(ctx context.Context, oldSlug string) (string, bool, error) {
	if normalize.IsPlaceholder(oldSlug) {
		return "", false, nil
	}
	return l.store.FindProjectIDByOldSlug(ctx, oldSlug)
}

// FindBoardByOldName scans only the given project's history, the
// candidate-scope restriction of the generic owner lookup.
func (l *Ledger) FindBoardByOldName(ctx context.Context, projectID, oldName string) (string, bool, error) {
	if normalize.IsPlaceholder(oldName) {
		return "", false, nil
	}
	return l.store.FindBoardIDByOldName(ctx, projectID, oldName)
}
