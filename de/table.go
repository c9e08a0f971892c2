// Package de parses and filters the differential expression tables the
// MAST workers write back to the workspace as out.csv.
package de

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Table is one worker result: genes by statistics columns. Contrast
// statistics arrive as <contrast>_coef / <contrast>_fdr column pairs.
type Table struct {
	Genes   []string
	Columns []string

	values [][]float64
	colIdx map[string]int
}

// Parse reads a worker out.csv: gene index in the first column, float
// statistics in the rest. Empty fields parse as NaN.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading result header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("result table has no statistics columns")
	}

	t := &Table{
		Columns: header[1:],
		colIdx:  map[string]int{},
	}
	for j, col := range t.Columns {
		t.colIdx[col] = j
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading result row %d: %w", len(t.Genes)+1, err)
		}
		row := make([]float64, len(t.Columns))
		for j, s := range rec[1:] {
			if s == "" {
				s = "NaN"
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("result value %q for gene %q: %w", s, rec[0], err)
			}
			row[j] = v
		}
		t.Genes = append(t.Genes, rec[0])
		t.values = append(t.values, row)
	}
	return t, nil
}

// Contrasts lists the contrast names, derived from the _coef-suffixed
// columns.
func (t *Table) Contrasts() []string {
	var names []string
	for _, col := range t.Columns {
		if strings.HasSuffix(col, "_coef") {
			names = append(names, strings.TrimSuffix(col, "_coef"))
		}
	}
	return names
}

// Value returns the statistic for one gene row.
func (t *Table) Value(row int, col string) (float64, bool) {
	j, ok := t.colIdx[col]
	if !ok || row < 0 || row >= len(t.values) {
		return 0, false
	}
	return t.values[row][j], true
}

// Top ranks, per contrast, the genes passing the thresholds: fdr below
// fdr and coefficient above lfc, ordered by fdr ascending then
// coefficient descending.
func (t *Table) Top(lfc, fdr float64) map[string][]string {
	top := map[string][]string{}
	for _, contrast := range t.Contrasts() {
		coefCol := contrast + "_coef"
		fdrCol := contrast + "_fdr"

		type ranked struct {
			gene string
			coef float64
			fdr  float64
		}
		var rows []ranked
		for i, gene := range t.Genes {
			coef, okC := t.Value(i, coefCol)
			f, okF := t.Value(i, fdrCol)
			if !okC || !okF {
				continue
			}
			if f < fdr && coef > lfc {
				rows = append(rows, ranked{gene: gene, coef: coef, fdr: f})
			}
		}
		sort.SliceStable(rows, func(a, b int) bool {
			if rows[a].fdr != rows[b].fdr {
				return rows[a].fdr < rows[b].fdr
			}
			return rows[a].coef > rows[b].coef
		})

		genes := make([]string, len(rows))
		for i, r := range rows {
			genes[i] = r.gene
		}
		top[contrast] = genes
	}
	return top
}

// Filter applies Top to a set of group tables.
func Filter(tables map[string]*Table, lfc, fdr float64) map[string]map[string][]string {
	top := map[string]map[string][]string{}
	for group, t := range tables {
		top[group] = t.Top(lfc, fdr)
	}
	return top
}
