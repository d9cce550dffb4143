package core

import "sort"

// Severity ranks a validation issue. Errors block automatic approval,
// warnings and infos only lower confidence.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityError:   0,
	SeverityWarning: 1,
	SeverityInfo:    2,
}

// ValidationIssue is a single finding produced by the business rule engine
// or by an LLM validation pass.
type ValidationIssue struct {
	Field        string   `json:"field"`
	Issue        string   `json:"issue"`
	Severity     Severity `json:"severity"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// issueKey is the deduplication key: two issues with the same field, text
// and severity are the same issue regardless of which validator produced it.
type issueKey struct {
	field    string
	issue    string
	severity Severity
}

// DedupIssues merges issue lists, removes duplicates and sorts the result
// by severity (errors first), then field.
func DedupIssues(lists ...[]ValidationIssue) []ValidationIssue {
	seen := make(map[issueKey]struct{})
	var out []ValidationIssue
	for _, list := range lists {
		for _, is := range list {
			k := issueKey{field: is.Field, issue: is.Issue, severity: is.Severity}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, is)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := severityRank[out[i].Severity], severityRank[out[j].Severity]
		if ri != rj {
			return ri < rj
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// CountBySeverity returns the number of errors, warnings and infos.
func CountBySeverity(issues []ValidationIssue) (errors, warnings, infos int) {
	for _, is := range issues {
		switch is.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		case SeverityInfo:
			infos++
		}
	}
	return
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []ValidationIssue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}
