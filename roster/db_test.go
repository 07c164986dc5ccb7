package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/openmic/testutil"
)

func TestStoreAddFetchCancel(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := NewStore(database)
	ctx := context.Background()

	id, err := store.Add(ctx, Performer{Name: "Sarah", TimeSlot: "8:00", Email: "sarah@example.com", Songs: []Song{{Title: "Midnight Dreams", Writer: "Sarah"}, {Title: "Second"}}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add(ctx, Performer{Name: "Other", TimeSlot: "8:00", Songs: []Song{{Title: "x"}}}); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	got, err := store.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || len(got[0].Songs) != 2 || got[0].Songs[0].Title != "Midnight Dreams" {
		t.Fatalf("Fetch = %+v", got)
	}

	if err := store.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := store.Cancel(ctx, id+1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, _ = store.Fetch(ctx)
	if !got[0].Cancelled {
		t.Error("performer should be cancelled")
	}
	// the slot frees up once its holder cancels
	if _, err := store.Add(ctx, Performer{Name: "Other", TimeSlot: "8:00", Songs: []Song{{Title: "x"}}}); err != nil {
		t.Errorf("Add after cancel: %v", err)
	}
}
