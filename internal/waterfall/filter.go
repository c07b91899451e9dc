package waterfall

import "sort"

// OperationFilter selects which operation names are shown. The zero value
// is NoFilter. An active filter always holds at least one name.
type OperationFilter struct {
	names map[string]struct{}
}

// NoFilter shows every operation.
var NoFilter = OperationFilter{}

// ActiveFilter returns a filter allowing only the given names. An empty
// name list yields NoFilter.
func ActiveFilter(names ...string) OperationFilter {
	if len(names) == 0 {
		return NoFilter
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return OperationFilter{names: set}
}

// IsActive reports whether the filter restricts anything.
func (f OperationFilter) IsActive() bool {
	return len(f.names) > 0
}

// Allows reports whether an operation name passes the filter.
func (f OperationFilter) Allows(name string) bool {
	if !f.IsActive() {
		return true
	}
	_, ok := f.names[name]
	return ok
}

// Names returns the allowed names in alphabetical order, or nil for NoFilter.
func (f OperationFilter) Names() []string {
	if !f.IsActive() {
		return nil
	}
	names := make([]string, 0, len(f.names))
	for n := range f.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two filters allow the same names.
func (f OperationFilter) Equal(other OperationFilter) bool {
	if len(f.names) != len(other.names) {
		return false
	}
	for n := range f.names {
		if _, ok := other.names[n]; !ok {
			return false
		}
	}
	return true
}

// ToggleOperationFilter adds name to the filter, or removes it if already
// present. Removing the last name collapses the filter back to NoFilter.
func ToggleOperationFilter(f OperationFilter, name string) OperationFilter {
	if !f.IsActive() {
		return ActiveFilter(name)
	}

	next := make(map[string]struct{}, len(f.names)+1)
	for n := range f.names {
		next[n] = struct{}{}
	}
	if _, ok := next[name]; ok {
		delete(next, name)
	} else {
		next[name] = struct{}{}
	}

	if len(next) == 0 {
		return NoFilter
	}
	return OperationFilter{names: next}
}

// ToggleAllOperationFilters selects every name. If the filter already
// covers all of them it is cleared instead.
func ToggleAllOperationFilters(f OperationFilter, allNames []string) OperationFilter {
	if !f.IsActive() {
		return ActiveFilter(allNames...)
	}

	coversAll := true
	for _, n := range allNames {
		if !f.Allows(n) {
			coversAll = false
			break
		}
	}
	if coversAll {
		return NoFilter
	}
	return ActiveFilter(allNames...)
}
