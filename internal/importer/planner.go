package importer

import (
	"sort"
	"strings"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
)

// Pass groups the work for one record type: the columns that feed it and
// the rows assigned to it, in sheet order.
type Pass struct {
	RecordType string       `json:"recordType"`
	Columns    []ColumnSpec `json:"columns"`
	Rows       []Row        `json:"-"`
}

// Plan is the result of planning one submission: the decoded column
// mapping, the topological processing order over the record types present,
// and one pass per type. RowErrors carries row-level template problems
// (cells spilling into another type's columns) discovered during planning;
// they become errored outcomes, not submission failures.
type Plan struct {
	Columns   []ColumnSpec   `json:"columns"`
	Order     []string       `json:"order"`
	Passes    []Pass         `json:"-"`
	RowErrors map[int]string `json:"-"`
}

// BuildPlan maps the headers, assigns each row to the record type owning
// its leftmost non-empty cell, infers reference edges between the types
// present, and fixes a topological processing order. A cycle between
// distinct types aborts the submission; self-references are legal and
// excluded from cycle detection.
func BuildPlan(registry *domain.Registry, sheet Sheet) (Plan, error) {
	columns, err := MapColumns(registry, sheet.Headers)
	if err != nil {
		return Plan{}, err
	}
	if len(columns) == 0 {
		return Plan{}, planErrorf("no columns found")
	}

	// Group columns per record type in first-appearance order.
	columnsByType := make(map[string][]ColumnSpec)
	var typeOrder []string
	for _, col := range columns {
		if _, seen := columnsByType[col.RecordType]; !seen {
			typeOrder = append(typeOrder, col.RecordType)
		}
		columnsByType[col.RecordType] = append(columnsByType[col.RecordType], col)
	}

	rowsByType := make(map[string][]Row)
	rowErrors := make(map[int]string)

	for _, row := range sheet.Rows {
		owner := ""
		var stray []string
		for _, col := range columns {
			if col.Index >= len(row.Cells) || row.Cells[col.Index] == "" {
				continue
			}
			if owner == "" {
				owner = col.RecordType
				continue
			}
			if col.RecordType != owner {
				stray = append(stray, col.Header)
			}
		}
		if owner == "" {
			continue // fully empty row, already filtered by the reader
		}
		if len(stray) > 0 {
			rowErrors[row.Number] = "row mixes columns of multiple record types: " + strings.Join(stray, ", ")
		}
		rowsByType[owner] = append(rowsByType[owner], row)
	}

	order, err := topologicalOrder(typeOrder, columnsByType)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Columns: columns, Order: order, RowErrors: rowErrors}
	for _, recordType := range order {
		plan.Passes = append(plan.Passes, Pass{
			RecordType: recordType,
			Columns:    columnsByType[recordType],
			Rows:       rowsByType[recordType],
		})
	}

	return plan, nil
}

// topologicalOrder runs Kahn's algorithm over the reference edges between
// the types present, breaking ties by first-appearance order so the plan is
// stable across runs.
func topologicalOrder(types []string, columnsByType map[string][]ColumnSpec) ([]string, error) {
	present := make(map[string]bool, len(types))
	for _, t := range types {
		present[t] = true
	}

	// deps[a] holds the set of types a references and must wait for.
	deps := make(map[string]map[string]bool, len(types))
	for _, t := range types {
		deps[t] = make(map[string]bool)
		for _, col := range columnsByType[t] {
			if !col.Kind.Reference() {
				continue
			}
			// Self-edges are legal (hierarchies addressed by pk or
			// external id) and never count toward cycles.
			if col.Target == t || !present[col.Target] {
				continue
			}
			deps[t][col.Target] = true
		}
	}

	order := make([]string, 0, len(types))
	emitted := make(map[string]bool, len(types))

	for len(order) < len(types) {
		progressed := false
		for _, t := range types {
			if emitted[t] {
				continue
			}
			ready := true
			for dep := range deps[t] {
				if !emitted[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, t)
				emitted[t] = true
				progressed = true
			}
		}
		if !progressed {
			var remaining []string
			for _, t := range types {
				if !emitted[t] {
					remaining = append(remaining, t)
				}
			}
			sort.Strings(remaining)
			return nil, planErrorf("dependency cycle between record types: %s", strings.Join(remaining, ", "))
		}
	}

	return order, nil
}
