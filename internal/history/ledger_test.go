package history

import (
	"context"
	"errors"
	"testing"
)

type fakeHistoryStore struct {
	slugEdges  []string
	nameEdges  []string
	appendErr  error
	slugOwners map[string]string
	nameOwners map[string]string
}

func (f *fakeHistoryStore) AppendSlugHistory(ctx context.Context, projectID, oldSlug, newSlug string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.slugEdges = append(f.slugEdges, projectID+":"+oldSlug+">"+newSlug)
	return nil
}

func (f *fakeHistoryStore) AppendNameHistory(ctx context.Context, boardID, projectID, oldName, newName string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.nameEdges = append(f.nameEdges, boardID+":"+oldName+">"+newName)
	return nil
}

func (f *fakeHistoryStore) FindProjectIDByOldSlug(ctx context.Context, oldSlug string) (string, bool, error) {
	id, ok := f.slugOwners[oldSlug]
	return id, ok, nil
}

func (f *fakeHistoryStore) FindBoardIDByOldName(ctx context.Context, projectID, oldName string) (string, bool, error) {
	id, ok := f.nameOwners[projectID+"|"+oldName]
	return id, ok, nil
}

func TestRecordSlugChangeAppends(t *testing.T) {
	fake := &fakeHistoryStore{}
	ledger := NewLedger(fake)

	ledger.RecordSlugChange(context.Background(), "prj_1", "acme", "acme-labs")
	if len(fake.slugEdges) != 1 || fake.slugEdges[0] != "prj_1:acme>acme-labs" {
		t.Fatalf("slug edges = %v", fake.slugEdges)
	}
}

func TestRecordSwallowsAppendErrors(t *testing.T) {
	fake := &fakeHistoryStore{appendErr: errors.New("db down")}
	ledger := NewLedger(fake)

	// Must not panic or surface the error to the rename path.
	ledger.RecordSlugChange(context.Background(), "prj_1", "a", "b")
	ledger.RecordNameChange(context.Background(), "brd_1", "prj_1", "Roadmap", "Roadmap v2")
}

func TestRecordSkipsPlaceholders(t *testing.T) {
	fake := &fakeHistoryStore{}
	ledger := NewLedger(fake)
	ctx := context.Background()

	ledger.RecordNameChange(ctx, "brd_1", "prj_1", "Untitled", "Roadmap")
	ledger.RecordNameChange(ctx, "brd_1", "prj_1", "Roadmap", "Untitled_2")
	if len(fake.nameEdges) != 0 {
		t.Fatalf("placeholder edges recorded: %v", fake.nameEdges)
	}
}

func TestFindSkipsPlaceholders(t *testing.T) {
	fake := &fakeHistoryStore{
		nameOwners: map[string]string{"prj_1|Untitled": "brd_9"},
	}
	ledger := NewLedger(fake)

	if _, ok, _ := ledger.FindBoardByOldName(context.Background(), "prj_1", "Untitled"); ok {
		t.Fatal("placeholder matched history")
	}
}

func TestFindBoardScopedToProject(t *testing.T) {
	fake := &fakeHistoryStore{
		nameOwners: map[string]string{"prj_1|Roadmap": "brd_1"},
	}
	ledger := NewLedger(fake)
	ctx := context.Background()

	id, ok, err := ledger.FindBoardByOldName(ctx, "prj_1", "Roadmap")
	if err != nil || !ok || id != "brd_1" {
		t.Fatalf("FindBoardByOldName = %q, %v, %v", id, ok, err)
	}
	if _, ok, _ := ledger.FindBoardByOldName(ctx, "prj_2", "Roadmap"); ok {
		t.Fatal("match leaked across project scope")
	}
}
