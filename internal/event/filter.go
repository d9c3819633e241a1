package event

import "path"

// Filter decides whether an event should be forwarded to the target.
// A zero-value Filter accepts everything.
type Filter struct {
	DBs         map[int]struct{}
	Types       map[string]struct{}
	KeyPatterns []string
}

// NewFilter builds a Filter from the raw config values, skipping empty
// sets so they behave as "match everything" rather than "match
// nothing".
func NewFilter(dbs []int, types []string, patterns []string) *Filter {
	f := &Filter{}
	if len(dbs) > 0 {
		f.DBs = make(map[int]struct{}, len(dbs))
		for _, db := range dbs {
			f.DBs[db] = struct{}{}
		}
	}
	if len(types) > 0 {
		f.Types = make(map[string]struct{}, len(types))
		for _, t := range types {
			f.Types[t] = struct{}{}
		}
	}
	f.KeyPatterns = patterns
	return f
}

// Match reports whether ev should pass the filter. Command/StreamCommand
// events are always forwarded unfiltered by Type, since the type of the
// key they touch isn't known without inspecting target state; DB and
// key-pattern predicates still apply.
func (f *Filter) Match(ev Event) bool {
	if f == nil {
		return true
	}
	if ev.Kind == KindKeyValue || ev.Kind == KindCommand || ev.Kind == KindStreamCommand {
		if f.DBs != nil {
			if _, ok := f.DBs[ev.DB]; !ok {
				return false
			}
		}
	}
	if ev.Kind == KindKeyValue && f.Types != nil {
		if _, ok := f.Types[ev.Type]; !ok {
			return false
		}
	}
	if len(f.KeyPatterns) > 0 && len(ev.Key) > 0 {
		matched := false
		for _, p := range f.KeyPatterns {
			if ok, _ := path.Match(p, string(ev.Key)); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
