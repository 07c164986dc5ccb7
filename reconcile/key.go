package reconcile

import (
	"strings"

	"github.com/onnwee/openmic/roster"
)

// MatchKey correlates a roster (performer, song) pair with a registry broadcast.
type MatchKey string

var foldReplacer = strings.NewReplacer(
	"|", "/",
	"‘", "'", "’", "'", "“", `"`, "”", `"`,
	" ", " ",
)

// Normalize folds case, typographic quotes, the title separator and runs of
// whitespace so that a value read back from a broadcast title compares equal to
// the roster value it was rendered from.
func Normalize(s string) string {
	s = foldReplacer.Replace(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// KeyFor returns normalize(artist) + "|" + normalize(song).
func KeyFor(artist, song string) MatchKey {
	return MatchKey(Normalize(artist) + "|" + Normalize(song))
}

// KeyOf returns the match key of a performer's song.
func KeyOf(p roster.Performer, s roster.Song) MatchKey { return KeyFor(p.Name, s.Title) }
