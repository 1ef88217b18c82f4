// paths/pattern.go
package paths

import (
	"regexp"
	"strconv"
	"strings"
)

// Pattern is a filename with the sequence digits replaced by one named
// capture group: Prefix, then Group (\d+), then Suffix.
type Pattern struct {
	Prefix string
	Group  string
	Suffix string
}

// String renders the pattern as a regular expression with a named group.
func (p Pattern) String() string {
	return "^" + regexp.QuoteMeta(p.Prefix) + "(?P<" + p.Group + `>\d+)` + regexp.QuoteMeta(p.Suffix) + "$"
}

func (p Pattern) Regexp() *regexp.Regexp {
	return regexp.MustCompile(p.String())
}

// Match reports whether name belongs to this identity and, if so, the
// sequence number it carries.
func (p Pattern) Match(name string) (int, bool) {
	m := p.Regexp().FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// LikeEscape is the escape character used by Like.
const LikeEscape = "!"

// Like renders the pattern for a relational LIKE ... ESCAPE '!' clause, the
// capture group collapsing to a wildcard. It can over-match (the wildcard
// is not restricted to digits); callers post-filter with Regexp.
func (p Pattern) Like() string {
	return escapeLike(p.Prefix) + "%" + escapeLike(p.Suffix)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(LikeEscape, LikeEscape+LikeEscape, "%", LikeEscape+"%", "_", LikeEscape+"_")
	return r.Replace(s)
}
