// Package feather writes the staged expression matrix in the format
// the MAST workers read it back from: a feather v2 file, which is the
// Arrow IPC file format, with the cell index in the first column and
// one float64 column per gene.
package feather

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/fbrundu/batchmast/dataset"
)

const indexColumn = "index"

func Write(w io.Writer, d *dataset.Dataset) error {
	fields := make([]arrow.Field, 0, d.NumGenes()+1)
	fields = append(fields, arrow.Field{Name: indexColumn, Type: arrow.BinaryTypes.String})
	for _, gene := range d.Genes {
		fields = append(fields, arrow.Field{Name: gene, Type: arrow.PrimitiveTypes.Float64})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	idx := b.Field(0).(*array.StringBuilder)
	for _, cell := range d.Cells {
		idx.Append(cell)
	}
	for j := range d.Genes {
		col := b.Field(j + 1).(*array.Float64Builder)
		for i := range d.Cells {
			col.Append(d.X[i][j])
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	// the ipc file writer patches the footer on Close and needs a
	// seekable target, so the file is assembled in memory first
	sb := &seekBuffer{}
	fw, err := ipc.NewFileWriter(sb, ipc.WithSchema(schema))
	if err != nil {
		return err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	_, err = w.Write(sb.buf)
	return err
}

// seekBuffer is an in-memory io.WriteSeeker. Writes past the end grow
// the buffer; writes after a seek back overwrite in place.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if grow := b.pos + len(p) - len(b.buf); grow > 0 {
		b.buf = append(b.buf, make([]byte, grow)...)
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("seek: bad whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seek: negative position %d", pos)
	}
	b.pos = int(pos)
	return pos, nil
}
