package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// ObsCSV renders the chosen obs columns as CSV with the cell index in
// the first column, the form the workers expect as cdat.csv.
func (d *Dataset) ObsCSV(cols []string) ([]byte, error) {
	for _, col := range cols {
		if _, ok := d.Obs[col]; !ok {
			return nil, fmt.Errorf("no obs column %q", col)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{""}, cols...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	row := make([]string, len(cols)+1)
	for i, cell := range d.Cells {
		row[0] = cell
		for n, col := range cols {
			row[n+1] = d.Obs[col][i]
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ReadMatrixCSV loads a counts matrix with gene names in the header and
// cell names in the first column. The counts land both in the working
// matrix and in the named layer.
func ReadMatrixCSV(r io.Reader, layer string) (*Dataset, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading matrix header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("matrix needs an index column and at least one gene")
	}
	genes := header[1:]

	var cells []string
	var x [][]float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading matrix row %d: %w", len(cells)+1, err)
		}
		cells = append(cells, rec[0])
		row := make([]float64, len(genes))
		for j, s := range rec[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("matrix value %q at row %d col %d: %w", s, len(cells), j+1, err)
			}
			row[j] = v
		}
		x = append(x, row)
	}

	d, err := New(x, cells, genes)
	if err != nil {
		return nil, err
	}
	if err := d.SetLayer(layer, cloneMatrix(x)); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadObsCSV attaches metadata columns from a CSV whose rows follow the
// matrix cell order, cell names in the first column.
func (d *Dataset) ReadObsCSV(r io.Reader) error {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("reading obs header: %w", err)
	}
	cols := header[1:]
	values := make([][]string, len(cols))

	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading obs row %d: %w", i+1, err)
		}
		if i >= len(d.Cells) {
			return fmt.Errorf("obs has more rows than the %d cells", len(d.Cells))
		}
		if rec[0] != d.Cells[i] {
			return fmt.Errorf("obs row %d is %q, matrix has %q", i+1, rec[0], d.Cells[i])
		}
		for n := range cols {
			values[n] = append(values[n], rec[n+1])
		}
	}

	for n, col := range cols {
		if err := d.SetObs(col, values[n]); err != nil {
			return err
		}
	}
	return nil
}
