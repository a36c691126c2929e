package common

import (
	"regexp"
	"strings"
)

// ExcludeList holds URLs which must not be traced. An entry is matched exactly,
// and also as a regular expression when it compiles as one.
type ExcludeList struct {
	exact    map[string]bool
	patterns []*regexp.Regexp
}

func (el *ExcludeList) Excluded(url string) bool {

	if el == nil {
		return false
	}
	if el.exact[url] {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

func (el *ExcludeList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact)
}

// Patterns returns the entries which are matched as regular expressions too.
func (el *ExcludeList) Patterns() []string {

	if el == nil {
		return nil
	}
	var r []string
	for _, re := range el.patterns {
		r = append(r, re.String())
	}
	return r
}

func NewExcludeList(entries []string) *ExcludeList {

	el := &ExcludeList{exact: make(map[string]bool)}

	for _, e := range entries {

		e = strings.TrimSpace(e)
		if IsEmpty(e) || el.exact[e] {
			continue
		}
		el.exact[e] = true

		// "/search?q=(draft" stays exact
		if re, err := regexp.Compile(e); err == nil {
			el.patterns = append(el.patterns, re)
		}
	}
	return el
}
