package task

// Plan is the ordered list of files to produce plus the context the coder
// needs. File names may repeat.
type Plan struct {
	Files        []string   `json:"files"`
	Requirements []string   `json:"requirements,omitempty"`
	Entities     []string   `json:"entities,omitempty"`
	Actions      []string   `json:"actions,omitempty"`
	Complexity   Complexity `json:"complexity,omitempty"`
	Architecture string     `json:"architecture,omitempty"`
}

// PlanUpdate is an incremental change to a Plan. Zero fields are absent.
type PlanUpdate struct {
	Files        []string   `json:"files,omitempty"`
	Requirements []string   `json:"requirements,omitempty"`
	Entities     []string   `json:"entities,omitempty"`
	Actions      []string   `json:"actions,omitempty"`
	Complexity   Complexity `json:"complexity,omitempty"`
	Architecture string     `json:"architecture,omitempty"`
}

// IsEmpty reports whether the update carries no information
func (u PlanUpdate) IsEmpty() bool {
	return len(u.Files) == 0 &&
		len(u.Requirements) == 0 &&
		len(u.Entities) == 0 &&
		len(u.Actions) == 0 &&
		u.Complexity == "" &&
		u.Architecture == ""
}

// PlanFromAnalysis seeds a plan with the analysis context and files
func PlanFromAnalysis(v AnalysisView, files []string) Plan {
	return Plan{
		Files:        append([]string{}, files...),
		Requirements: append([]string{}, v.Requirements...),
		Entities:     append([]string{}, v.Entities...),
		Actions:      append([]string{}, v.Actions...),
		Complexity:   v.Complexity,
		Architecture: v.Architecture,
	}
}

// Merge applies u to p. Requirements, entities and actions are unioned in
// first-occurrence order; files are concatenated with duplicates kept;
// complexity and architecture prefer the update, then p, then "unknown".
func Merge(p Plan, u PlanUpdate) Plan {
	out := Plan{
		Files:        append(append([]string{}, p.Files...), u.Files...),
		Requirements: union(p.Requirements, u.Requirements),
		Entities:     union(p.Entities, u.Entities),
		Actions:      union(p.Actions, u.Actions),
		Complexity:   ComplexityUnknown,
		Architecture: DefaultArchitecture,
	}
	switch {
	case u.Complexity != "":
		out.Complexity = u.Complexity
	case p.Complexity != "":
		out.Complexity = p.Complexity
	}
	switch {
	case u.Architecture != "":
		out.Architecture = u.Architecture
	case p.Architecture != "":
		out.Architecture = p.Architecture
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
