// Package roster models the performers registered for an episode and the
// sources the roster can be pulled from (the sign-up database or a Google
// Sheets spreadsheet). A roster pull always returns the full current list;
// there are no partial updates.
package roster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrFetch wraps every failure to pull the roster from its source.
var ErrFetch = errors.New("roster fetch failed")

// Song is a single song a performer signed up with.
type Song struct {
	Title  string `json:"title"`
	Writer string `json:"writer,omitempty"`
}

// Blank reports whether the song has no real title.
func (s Song) Blank() bool { return strings.TrimSpace(s.Title) == "" }

// Performer is one roster entry. Identity for matching is (Name, TimeSlot).
type Performer struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	TimeSlot  string `json:"time_slot"`
	Songs     []Song `json:"songs"`
	Email     string `json:"email,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Identity returns the (name, time slot) identity of the performer.
func (p Performer) Identity() string {
	return strings.ToLower(strings.Join(strings.Fields(p.Name), " ")) + "@" + strings.TrimSpace(p.TimeSlot)
}

// RealSongs returns the songs with a non-blank title, in sign-up order.
func (p Performer) RealSongs() []Song {
	out := make([]Song, 0, len(p.Songs))
	for _, s := range p.Songs {
		if !s.Blank() {
			out = append(out, s)
		}
	}
	return out
}

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=roster.go Source

// Source yields the full current roster. Implementations must be side-effect free.
type Source interface {
	Fetch(ctx context.Context) ([]Performer, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) ([]Performer, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) ([]Performer, error) { return f(ctx) }

// Fingerprint returns a stable digest of the roster content. Two pulls with the
// same performers, songs and cancellation flags produce the same fingerprint.
// Database ids are excluded so a re-import does not count as an edit.
func Fingerprint(performers []Performer) string {
	h := sha256.New()
	for _, p := range performers {
		fmt.Fprintf(h, "%q|%q|%q|%t\n", p.Name, p.TimeSlot, p.Email, p.Cancelled)
		for _, s := range p.Songs {
			fmt.Fprintf(h, "\t%q|%q\n", s.Title, s.Writer)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SortBySlot orders performers by time slot (earliest first). Slots that cannot
// be parsed sort after parsable ones, lexically. The sort is stable.
func SortBySlot(performers []Performer) {
	sort.SliceStable(performers, func(i, j int) bool {
		a, aok := SlotMinutes(performers[i].TimeSlot)
		b, bok := SlotMinutes(performers[j].TimeSlot)
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return performers[i].TimeSlot < performers[j].TimeSlot
		}
	})
}

// SlotMinutes parses slots such as "8:00", "8:15 PM" or "20:30" into minutes
// after midnight. Open mics run in the evening, so a bare hour below 12 without
// an AM marker is read as PM.
func SlotMinutes(slot string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(slot))
	if s == "" {
		return 0, false
	}
	meridiem := ""
	for _, m := range []string{"AM", "PM", "A.M.", "P.M."} {
		if strings.HasSuffix(s, m) {
			meridiem = m[:1]
			s = strings.TrimSpace(strings.TrimSuffix(s, m))
			break
		}
	}
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		mm = "0"
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	switch meridiem {
	case "A":
		if h == 12 {
			h = 0
		}
	case "P":
		if h < 12 {
			h += 12
		}
	default:
		if h < 12 {
			h += 12
		}
	}
	return h*60 + m, true
}
