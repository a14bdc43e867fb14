package resolve

import (
	"context"
	"errors"
	"testing"
)

func mapProber(owners map[string]string) Prober {
	return func(ctx context.Context, name string) (string, bool, error) {
		id, ok := owners[name]
		return id, ok, nil
	}
}

func TestUniqueNameFreeScope(t *testing.T) {
	got, err := UniqueName(context.Background(), mapProber(nil), "Board", "")
	if err != nil || got != "Board" {
		t.Fatalf("UniqueName() = %q, %v", got, err)
	}
}

func TestUniqueNameProbesSequentially(t *testing.T) {
	owners := map[string]string{"Board": "brd_1", "Board_1": "brd_2"}
	got, err := UniqueName(context.Background(), mapProber(owners), "Board", "")
	if err != nil || got != "Board_2" {
		t.Fatalf("UniqueName() = %q, %v, want Board_2", got, err)
	}
}

func TestUniqueNameExcludesSelf(t *testing.T) {
	owners := map[string]string{"Board": "brd_1"}
	got, err := UniqueName(context.Background(), mapProber(owners), "Board", "brd_1")
	if err != nil || got != "Board" {
		t.Fatalf("UniqueName() = %q, %v, want Board kept by its owner", got, err)
	}
}

func TestUniqueNameDefaultsBase(t *testing.T) {
	got, err := UniqueName(context.Background(), mapProber(nil), "", "")
	if err != nil || got != "Untitled" {
		t.Fatalf("UniqueName() = %q, %v, want Untitled", got, err)
	}
}

func TestUniqueNamePropagatesProbeError(t *testing.T) {
	boom := errors.New("boom")
	probe := func(ctx context.Context, name string) (string, bool, error) {
		return "", false, boom
	}
	if _, err := UniqueName(context.Background(), probe, "Board", ""); !errors.Is(err, boom) {
		t.Fatalf("UniqueName() error = %v, want wrapped probe error", err)
	}
}
