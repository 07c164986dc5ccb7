package roster

import (
	"fmt"
	"net/mail"
	"strings"
)

// MaxSongs is the number of songs a performer may sign up with.
const MaxSongs = 3

// ValidationError lists the sign-up fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range []string{"name", "time_slot", "songs", "email"} {
		if msg, ok := e.Fields[k]; ok {
			parts = append(parts, k+": "+msg)
		}
	}
	return "invalid sign-up: " + strings.Join(parts, "; ")
}

// NormalizeSignup trims whitespace, drops blank songs and validates a sign-up.
// It returns the cleaned performer or a *ValidationError.
func NormalizeSignup(p Performer) (Performer, error) {
	out := Performer{
		Name:     strings.Join(strings.Fields(p.Name), " "),
		TimeSlot: strings.TrimSpace(p.TimeSlot),
		Email:    strings.TrimSpace(p.Email),
	}
	for _, s := range p.Songs {
		s.Title = strings.TrimSpace(s.Title)
		s.Writer = strings.TrimSpace(s.Writer)
		if s.Title == "" {
			continue
		}
		out.Songs = append(out.Songs, s)
	}

	fields := map[string]string{}
	if out.Name == "" {
		fields["name"] = "required"
	} else if strings.Contains(out.Name, "|") {
		fields["name"] = "must not contain '|'"
	}
	if out.TimeSlot == "" {
		fields["time_slot"] = "required"
	} else if _, ok := SlotMinutes(out.TimeSlot); !ok {
		fields["time_slot"] = fmt.Sprintf("unrecognized slot %q", out.TimeSlot)
	}
	switch n := len(out.Songs); {
	case n == 0:
		fields["songs"] = "at least one song is required"
	case n > MaxSongs:
		fields["songs"] = fmt.Sprintf("at most %d songs", MaxSongs)
	}
	if out.Email != "" {
		if _, err := mail.ParseAddress(out.Email); err != nil {
			fields["email"] = "invalid address"
		}
	}
	if len(fields) > 0 {
		return Performer{}, &ValidationError{Fields: fields}
	}
	return out, nil
}
