package loader

import (
	"fmt"
	"strings"

	"github.com/stackvity/bqbatch/pkg/batch"
)

// ParsePair splits one pair notation into its two table identifiers.
//
// Accepted forms are "left|right" and "left:right". Legacy identifiers of the
// form project:dataset.table contain a colon themselves, so a string with
// exactly three colons is split at the second one.
func ParsePair(s string) (left, right string, ok bool) {
	s = strings.TrimSpace(s)
	if l, r, found := strings.Cut(s, "|"); found {
		return clean(l, r)
	}

	switch strings.Count(s, ":") {
	case 1:
		l, r, _ := strings.Cut(s, ":")
		return clean(l, r)
	case 3:
		first := strings.Index(s, ":")
		second := first + 1 + strings.Index(s[first+1:], ":")
		return clean(s[:second], s[second+1:])
	}
	return "", "", false
}

func clean(l, r string) (string, string, bool) {
	l, r = strings.TrimSpace(l), strings.TrimSpace(r)
	if l == "" || r == "" || strings.Contains(r, "|") {
		return "", "", false
	}
	return l, r, true
}

// pairArgs reads inline pair arguments. Arguments in pair notation become one
// pair each; plain identifiers are paired with the next plain identifier.
func pairArgs(args []string) ([]record, error) {
	var (
		records []record
		pending string
		pendAt  int
	)
	for i, a := range args {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if l, r, ok := ParsePair(a); ok {
			if pending != "" {
				return nil, fmt.Errorf("%w: argument %d (%q) has no partner table", batch.ErrLoad, pendAt+1, pending)
			}
			records = append(records, record{Left: l, Right: r, where: fmt.Sprintf("argument %d", i+1)})
			continue
		}
		if pending == "" {
			pending, pendAt = a, i
			continue
		}
		records = append(records, record{Left: pending, Right: a, where: fmt.Sprintf("arguments %d-%d", pendAt+1, i+1)})
		pending = ""
	}
	if pending != "" {
		return nil, fmt.Errorf("%w: odd number of table arguments, %q has no partner table", batch.ErrLoad, pending)
	}
	return records, nil
}
