package roster

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/api/sheets/v4"
)

// SheetsSource reads the roster from a Google Sheets range whose first row
// holds column headers. Recognised headers (case-insensitive):
//
//	Name | Artist | Performer          performer name
//	Time Slot | Slot | Time            time slot
//	Email | Email Address              contact email
//	Song N | Song N Title              title of the N-th song (N = 1..)
//	Writer N | Song N Writer           writer of the N-th song
//	Status | Cancelled                 "cancelled", "canceled", "yes", "true" or "x" cancels
//
// Rows with an empty name are skipped. Other columns are ignored.
type SheetsSource struct {
	client        func(ctx context.Context) (*sheets.Service, error)
	spreadsheetID string
	readRange     string
}

// NewSheetsSource returns a Source reading readRange (e.g. "Signups!A1:Z200").
func NewSheetsSource(svc *sheets.Service, spreadsheetID, readRange string) *SheetsSource {
	return NewSheetsSourceFunc(func(context.Context) (*sheets.Service, error) { return svc, nil }, spreadsheetID, readRange)
}

// NewSheetsSourceFunc is NewSheetsSource with a client resolved on every
// fetch, for credentials that may not exist yet at startup.
func NewSheetsSourceFunc(client func(ctx context.Context) (*sheets.Service, error), spreadsheetID, readRange string) *SheetsSource {
	if readRange == "" {
		readRange = "A1:Z500"
	}
	return &SheetsSource{client: client, spreadsheetID: spreadsheetID, readRange: readRange}
}

// Fetch pulls the sheet and decodes it into performers.
func (s *SheetsSource) Fetch(ctx context.Context) ([]Performer, error) {
	svc, err := s.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: sheets client: %w", ErrFetch, err)
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: nil sheets service", ErrFetch)
	}
	resp, err := svc.Spreadsheets.Values.Get(s.spreadsheetID, s.readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: sheets values get: %w", ErrFetch, err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, r := range resp.Values {
		row := make([]string, len(r))
		for i, cell := range r {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return DecodeRows(rows)
}

type columnRole int

const (
	colIgnore columnRole = iota
	colName
	colSlot
	colEmail
	colSongTitle
	colSongWriter
	colStatus
)

type column struct {
	role columnRole
	song int // zero-based song index for song columns
}

var (
	songTitleHeader  = regexp.MustCompile(`^song\s*#?\s*(\d+)(\s*title)?$`)
	songWriterHeader = regexp.MustCompile(`^(?:writer\s*#?\s*(\d+)|song\s*#?\s*(\d+)\s*writer)$`)
)

func classifyHeader(h string) column {
	h = strings.ToLower(strings.Join(strings.Fields(h), " "))
	switch h {
	case "name", "artist", "performer", "artist name", "performer name":
		return column{role: colName}
	case "time slot", "slot", "time", "timeslot":
		return column{role: colSlot}
	case "email", "email address", "e-mail":
		return column{role: colEmail}
	case "status", "cancelled", "canceled":
		return column{role: colStatus}
	case "song", "song title":
		return column{role: colSongTitle}
	case "writer", "song writer", "songwriter":
		return column{role: colSongWriter}
	}
	if m := songTitleHeader.FindStringSubmatch(h); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return column{role: colSongTitle, song: n - 1}
		}
	}
	if m := songWriterHeader.FindStringSubmatch(h); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		n, _ := strconv.Atoi(digits)
		if n > 0 {
			return column{role: colSongWriter, song: n - 1}
		}
	}
	return column{role: colIgnore}
}

func cancelledValue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "cancelled", "canceled", "yes", "true", "x", "y":
		return true
	}
	return false
}

// DecodeRows converts a header row plus data rows into performers.
func DecodeRows(rows [][]string) ([]Performer, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols := make([]column, len(rows[0]))
	hasName := false
	for i, h := range rows[0] {
		cols[i] = classifyHeader(h)
		if cols[i].role == colName {
			hasName = true
		}
	}
	if !hasName {
		return nil, fmt.Errorf("%w: sheet has no name column", ErrFetch)
	}
	var out []Performer
	for _, row := range rows[1:] {
		var p Performer
		for i, cell := range row {
			if i >= len(cols) {
				break
			}
			cell = strings.TrimSpace(cell)
			c := cols[i]
			switch c.role {
			case colName:
				p.Name = cell
			case colSlot:
				p.TimeSlot = cell
			case colEmail:
				p.Email = cell
			case colStatus:
				p.Cancelled = cancelledValue(cell)
			case colSongTitle, colSongWriter:
				for len(p.Songs) <= c.song {
					p.Songs = append(p.Songs, Song{})
				}
				if c.role == colSongTitle {
					p.Songs[c.song].Title = cell
				} else {
					p.Songs[c.song].Writer = cell
				}
			}
		}
		if p.Name == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
