package clinical

import (
	"regexp"
	"strings"
)

// Identity is what two rows are compared on when checking for duplicates.
type Identity struct {
	Key   string
	Label string
}

// Normalize trims whitespace and folds case.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var trailingParen = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)\s*$`)

// ParseComplaint splits an encoded "Name (Comment)" string. Strings without a
// trailing parenthetical come back whole with an empty comment.
func ParseComplaint(s string) (name, comment string) {
	s = strings.TrimSpace(s)
	m := trailingParen.FindStringSubmatch(s)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return s, ""
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

// ComplaintEntry is one item of a free-text complaint field.
type ComplaintEntry struct {
	Name    string
	Comment string
}

// ParseComplaintList splits the server's free-text complaint field into entries.
// Separators inside parentheses belong to the comment.
func ParseComplaintList(text string) []ComplaintEntry {
	var (
		entries []ComplaintEntry
		depth   int
		cur     strings.Builder
	)
	flush := func() {
		name, comment := ParseComplaint(cur.String())
		cur.Reset()
		if name == "" {
			return
		}
		entries = append(entries, ComplaintEntry{Name: name, Comment: comment})
	}
	for _, r := range text {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case (r == ',' || r == '\n' || r == ';') && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return entries
}

// IsDuplicate reports whether candidate matches any existing row by key or by
// label, in either direction. Codes and labels come from different sources, so
// both are checked.
func IsDuplicate(candidate Identity, rows []Row) bool {
	want := candidateForms(candidate)
	if len(want) == 0 {
		return false
	}
	for _, r := range rows {
		for _, have := range []string{r.Key, Normalize(r.Label)} {
			if have != "" && want[have] {
				return true
			}
		}
	}
	return false
}

func candidateForms(c Identity) map[string]bool {
	forms := make(map[string]bool, 2)
	if k := Normalize(c.Key); k != "" {
		forms[k] = true
	}
	if l := Normalize(c.Label); l != "" {
		forms[l] = true
	}
	return forms
}
