package dataset

import (
	"sort"
)

type Summary struct {
	Total    int            `json:"total"`
	Forced   int            `json:"forced_intensity"`
	Linked   int            `json:"linked_to_child"`
	ByChild  map[string]int `json:"by_child"`
	Children []string       `json:"children"`
}

// Summarize counts seed rows per child reference.
func Summarize(rows []SeedRow) Summary {
	s := Summary{Total: len(rows), ByChild: map[string]int{}}
	for _, r := range rows {
		if r.ForceIntensity != nil {
			s.Forced++
		}
		if r.ChildID != nil {
			s.Linked++
		}
		name := r.ChildName
		if name == "" {
			name = "unassigned"
		}
		s.ByChild[name]++
	}
	for name := range s.ByChild {
		s.Children = append(s.Children, name)
	}
	sort.Strings(s.Children)
	return s
}
