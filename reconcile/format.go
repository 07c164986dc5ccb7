package reconcile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/openmic/roster"
)

// DefaultMaxTitleLen is the YouTube limit for broadcast titles, in characters.
const DefaultMaxTitleLen = 100

// Formatter renders broadcast titles and descriptions for one episode and
// recovers match keys from titles. Title format:
//
//	<show> #<episode> | <artist> | <song>
type Formatter struct {
	Show        string
	Episode     int
	MaxTitleLen int
}

var titlePattern = regexp.MustCompile(`^(.+?) #(\d+) \| (.+?) \| (.+)$`)

// ParsedTitle is the content recovered from a managed broadcast title.
type ParsedTitle struct {
	Show    string
	Episode int
	Artist  string
	Song    string
}

// Key returns the match key encoded in the title.
func (p ParsedTitle) Key() MatchKey { return KeyFor(p.Artist, p.Song) }

// clean collapses whitespace and replaces the separator so the parts always
// parse back out of the title.
func clean(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "|", "/")), " ")
}

// Title renders the broadcast title for a performer's song.
func (f Formatter) Title(p roster.Performer, s roster.Song) string {
	return fmt.Sprintf("%s #%d | %s | %s", clean(f.Show), f.Episode, clean(p.Name), clean(s.Title))
}

// Description renders the broadcast description. The writer line is omitted
// when the writer is blank.
func (f Formatter) Description(p roster.Performer, s roster.Song) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d\n", clean(f.Show), f.Episode)
	fmt.Fprintf(&b, "Artist: %s\n", clean(p.Name))
	if slot := strings.TrimSpace(p.TimeSlot); slot != "" {
		fmt.Fprintf(&b, "Time slot: %s\n", slot)
	}
	fmt.Fprintf(&b, "Song: %s", clean(s.Title))
	if w := clean(s.Writer); w != "" {
		fmt.Fprintf(&b, "\nWritten by: %s", w)
	}
	return b.String()
}

// TitleFits reports whether title is within the configured length limit.
func (f Formatter) TitleFits(title string) bool {
	max := f.MaxTitleLen
	if max <= 0 {
		max = DefaultMaxTitleLen
	}
	return utf8.RuneCountInString(title) <= max
}

// Parse recovers the title parts. It fails for titles not in the managed
// format and for titles belonging to a different show; such broadcasts are
// unmanaged. The episode number may differ from the formatter's episode.
func (f Formatter) Parse(title string) (ParsedTitle, bool) {
	m := titlePattern.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return ParsedTitle{}, false
	}
	ep, err := strconv.Atoi(m[2])
	if err != nil {
		return ParsedTitle{}, false
	}
	pt := ParsedTitle{Show: m[1], Episode: ep, Artist: strings.TrimSpace(m[3]), Song: strings.TrimSpace(m[4])}
	if pt.Artist == "" || pt.Song == "" {
		return ParsedTitle{}, false
	}
	if f.Show != "" && Normalize(pt.Show) != Normalize(clean(f.Show)) {
		return ParsedTitle{}, false
	}
	return pt, true
}
