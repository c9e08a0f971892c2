// Package dataset holds the in-memory single cell expression data the
// client stages for the Batch workers: a dense cells-by-genes matrix,
// per-cell metadata columns, and named count layers.
package dataset

import (
	"fmt"
	"math"
)

type Dataset struct {
	// X is the working matrix, rows are cells, columns are genes.
	X      [][]float64
	Cells  []string
	Genes  []string
	Obs    map[string][]string
	Layers map[string][][]float64
}

func New(x [][]float64, cells, genes []string) (*Dataset, error) {
	if len(x) != len(cells) {
		return nil, fmt.Errorf("matrix has %d rows for %d cells", len(x), len(cells))
	}
	for i, row := range x {
		if len(row) != len(genes) {
			return nil, fmt.Errorf("row %d has %d values for %d genes", i, len(row), len(genes))
		}
	}
	return &Dataset{
		X:      x,
		Cells:  cells,
		Genes:  genes,
		Obs:    map[string][]string{},
		Layers: map[string][][]float64{},
	}, nil
}

func (d *Dataset) NumCells() int { return len(d.Cells) }
func (d *Dataset) NumGenes() int { return len(d.Genes) }

func (d *Dataset) SetObs(col string, values []string) error {
	if len(values) != len(d.Cells) {
		return fmt.Errorf("obs column %q has %d values for %d cells", col, len(values), len(d.Cells))
	}
	d.Obs[col] = values
	return nil
}

func (d *Dataset) SetLayer(name string, x [][]float64) error {
	if len(x) != len(d.Cells) {
		return fmt.Errorf("layer %q has %d rows for %d cells", name, len(x), len(d.Cells))
	}
	for i, row := range x {
		if len(row) != len(d.Genes) {
			return fmt.Errorf("layer %q row %d has %d values for %d genes", name, i, len(row), len(d.Genes))
		}
	}
	d.Layers[name] = x
	return nil
}

func (d *Dataset) ObsColumn(col string) ([]string, error) {
	values, ok := d.Obs[col]
	if !ok {
		return nil, fmt.Errorf("no obs column %q", col)
	}
	return values, nil
}

func (d *Dataset) Clone() *Dataset {
	c := &Dataset{
		X:      cloneMatrix(d.X),
		Cells:  append([]string(nil), d.Cells...),
		Genes:  append([]string(nil), d.Genes...),
		Obs:    map[string][]string{},
		Layers: map[string][][]float64{},
	}
	for col, values := range d.Obs {
		c.Obs[col] = append([]string(nil), values...)
	}
	for name, x := range d.Layers {
		c.Layers[name] = cloneMatrix(x)
	}
	return c
}

func cloneMatrix(x [][]float64) [][]float64 {
	c := make([][]float64, len(x))
	for i, row := range x {
		c[i] = append([]float64(nil), row...)
	}
	return c
}

// FilterGenes drops genes detected (value > 0) in fewer than minCells
// cells, from the working matrix and every layer. Returns how many
// genes were kept.
func (d *Dataset) FilterGenes(minCells float64) int {
	keep := make([]int, 0, len(d.Genes))
	for j := range d.Genes {
		detected := 0
		for i := range d.X {
			if d.X[i][j] > 0 {
				detected++
			}
		}
		if float64(detected) >= minCells {
			keep = append(keep, j)
		}
	}
	if len(keep) == len(d.Genes) {
		return len(keep)
	}

	genes := make([]string, len(keep))
	for n, j := range keep {
		genes[n] = d.Genes[j]
	}
	d.Genes = genes
	d.X = selectColumns(d.X, keep)
	for name, x := range d.Layers {
		d.Layers[name] = selectColumns(x, keep)
	}
	return len(keep)
}

func selectColumns(x [][]float64, cols []int) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		sel := make([]float64, len(cols))
		for n, j := range cols {
			sel[n] = row[j]
		}
		out[i] = sel
	}
	return out
}

// NormalizeLog2CPM replaces the working matrix with the named counts
// layer scaled to one million counts per cell, then log2(1+x)
// transformed. Cells with no counts stay zero.
func (d *Dataset) NormalizeLog2CPM(layer string) error {
	counts, ok := d.Layers[layer]
	if !ok {
		return fmt.Errorf("no layer %q", layer)
	}
	x := make([][]float64, len(counts))
	for i, row := range counts {
		total := 0.0
		for _, v := range row {
			total += v
		}
		norm := make([]float64, len(row))
		if total > 0 {
			for j, v := range row {
				norm[j] = math.Log2(1 + v*1e6/total)
			}
		}
		x[i] = norm
	}
	d.X = x
	return nil
}

// Subset copies the dataset down to the cells where the obs column has
// the given value.
func (d *Dataset) Subset(col, value string) (*Dataset, error) {
	values, err := d.ObsColumn(col)
	if err != nil {
		return nil, err
	}
	keep := make([]int, 0, len(values))
	for i, v := range values {
		if v == value {
			keep = append(keep, i)
		}
	}

	s := &Dataset{
		X:      selectRows(d.X, keep),
		Cells:  make([]string, len(keep)),
		Genes:  append([]string(nil), d.Genes...),
		Obs:    map[string][]string{},
		Layers: map[string][][]float64{},
	}
	for n, i := range keep {
		s.Cells[n] = d.Cells[i]
	}
	for name, obs := range d.Obs {
		sel := make([]string, len(keep))
		for n, i := range keep {
			sel[n] = obs[i]
		}
		s.Obs[name] = sel
	}
	for name, x := range d.Layers {
		s.Layers[name] = selectRows(x, keep)
	}
	return s, nil
}

func selectRows(x [][]float64, rows []int) [][]float64 {
	out := make([][]float64, len(rows))
	for n, i := range rows {
		out[n] = append([]float64(nil), x[i]...)
	}
	return out
}

func (d *Dataset) ValueCounts(col string) (map[string]int, error) {
	values, err := d.ObsColumn(col)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, v := range values {
		counts[v]++
	}
	return counts, nil
}

// MinGroupSize is the size of the smallest group in the obs column.
func (d *Dataset) MinGroupSize(col string) (int, error) {
	counts, err := d.ValueCounts(col)
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, nil
	}
	min := -1
	for _, n := range counts {
		if min < 0 || n < min {
			min = n
		}
	}
	return min, nil
}

// UniqueInObs is the number of distinct values in the obs column, 0
// when the column is missing.
func (d *Dataset) UniqueInObs(col string) int {
	counts, err := d.ValueCounts(col)
	if err != nil {
		return 0
	}
	return len(counts)
}
