package roster

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeSignup(t *testing.T) {
	tests := []struct {
		name       string
		in         Performer
		wantFields []string
	}{
		{
			name: "valid",
			in:   Performer{Name: " Sarah ", TimeSlot: "8:00", Email: "sarah@example.com", Songs: []Song{{Title: "Midnight Dreams", Writer: "Sarah"}, {Title: " "}}},
		},
		{
			name:       "missing everything",
			in:         Performer{},
			wantFields: []string{"name", "time_slot", "songs"},
		},
		{
			name:       "pipe in name",
			in:         Performer{Name: "A | B", TimeSlot: "8:00", Songs: []Song{{Title: "x"}}},
			wantFields: []string{"name"},
		},
		{
			name:       "bad slot and email",
			in:         Performer{Name: "A", TimeSlot: "soon", Email: "nope", Songs: []Song{{Title: "x"}}},
			wantFields: []string{"time_slot", "email"},
		},
		{
			name:       "too many songs",
			in:         Performer{Name: "A", TimeSlot: "8:00", Songs: []Song{{Title: "1"}, {Title: "2"}, {Title: "3"}, {Title: "4"}}},
			wantFields: []string{"songs"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSignup(tt.in)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Name != "Sarah" || len(got.Songs) != 1 {
					t.Errorf("normalized = %+v", got)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Fields) != len(tt.wantFields) {
				t.Errorf("fields = %v, want %v", verr.Fields, tt.wantFields)
			}
			for _, f := range tt.wantFields {
				if _, ok := verr.Fields[f]; !ok {
					t.Errorf("missing field %q in %v", f, verr.Fields)
				}
				if !strings.Contains(verr.Error(), f) {
					t.Errorf("error message %q does not mention %q", verr.Error(), f)
				}
			}
		})
	}
}
