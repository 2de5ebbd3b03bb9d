package pipeline

import (
	"fmt"
	"regexp"
)

// Filters restrict a workflow job to particular branches or tags.
// Patterns are anchored regular expressions.
type Filters struct {
	Branches FilterList `yaml:"branches,omitempty"`
	Tags     FilterList `yaml:"tags,omitempty"`
}

// FilterList holds only/ignore pattern sets. Ignore wins over only.
type FilterList struct {
	Only   []string `yaml:"only,omitempty"`
	Ignore []string `yaml:"ignore,omitempty"`
}

// Ref identifies what triggered a run: a branch or a tag. Exactly one
// of the fields is normally set.
type Ref struct {
	Branch string
	Tag    string
}

// Validate compiles every pattern so bad regexes are caught at parse
// time, before scheduling.
func (f Filters) Validate() error {
	for _, pat := range append(append(append(f.Branches.Only, f.Branches.Ignore...), f.Tags.Only...), f.Tags.Ignore...) {
		if _, err := regexp.Compile(anchor(pat)); err != nil {
			return fmt.Errorf("invalid filter pattern %q: %w", pat, err)
		}
	}
	return nil
}

// Match reports whether a job passes the filters for the given ref.
//
// Tag runs only execute jobs that declare a matching tag filter; branch
// runs consult the branch filters. Filter evaluation happens before
// scheduling, so a false result means skipped, never failed.
func (f Filters) Match(ref Ref) bool {
	if ref.Tag != "" {
		if len(f.Tags.Only) == 0 && len(f.Tags.Ignore) == 0 {
			return false
		}
		return f.Tags.match(ref.Tag)
	}
	return f.Branches.match(ref.Branch)
}

// Empty reports whether no patterns are configured.
func (f Filters) Empty() bool {
	return len(f.Branches.Only) == 0 && len(f.Branches.Ignore) == 0 &&
		len(f.Tags.Only) == 0 && len(f.Tags.Ignore) == 0
}

func (fl FilterList) match(ref string) bool {
	for _, pat := range fl.Ignore {
		if matchAnchored(pat, ref) {
			return false
		}
	}
	if len(fl.Only) == 0 {
		return true
	}
	for _, pat := range fl.Only {
		if matchAnchored(pat, ref) {
			return true
		}
	}
	return false
}

func matchAnchored(pattern, s string) bool {
	re, err := regexp.Compile(anchor(pattern))
	if err != nil {
		// Validate() rejects bad patterns before scheduling.
		return false
	}
	return re.MatchString(s)
}

func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}
