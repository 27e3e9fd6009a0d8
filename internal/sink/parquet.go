// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sink

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// Parquet writes rows into a Parquet file with one optional string column per result column.
// Cells are stored in their text form; NULL stays null. Duplicate column names get a suffix.
type Parquet struct {
	out    io.Writer
	closer io.Closer

	writer  *parquet.Writer
	columns []int // input position -> leaf column index
}

// NewParquet writes to w. When w is an io.Closer, Close closes it.
func NewParquet(w io.Writer) *Parquet {
	p := &Parquet{out: w}
	if closer, ok := w.(io.Closer); ok {
		p.closer = closer
	}
	return p
}

func (p *Parquet) WriteHeader(columns []string) error {
	if p.writer != nil {
		return fmt.Errorf("parquet header already written")
	}
	names := uniqueNames(columns)
	group := make(parquet.Group, len(names))
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	p.columns = make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return fmt.Errorf("parquet column %q missing from schema", name)
		}
		p.columns[i] = leaf.ColumnIndex
	}
	p.writer = parquet.NewWriter(p.out, schema)
	return nil
}

func (p *Parquet) WriteRows(rows [][]any) error {
	if p.writer == nil {
		return fmt.Errorf("parquet rows written before header")
	}
	batch := make([]parquet.Row, 0, len(rows))
	for _, data := range rows {
		if len(data) != len(p.columns) {
			return fmt.Errorf("parquet row has %d cells, header has %d", len(data), len(p.columns))
		}
		row := make(parquet.Row, len(p.columns))
		for i, v := range data {
			col := p.columns[i]
			s, ok := formatCell(v)
			if !ok {
				row[col] = parquet.Value{}.Level(0, 0, col)
				continue
			}
			row[col] = parquet.ByteArrayValue([]byte(s)).Level(0, 1, col)
		}
		batch = append(batch, row)
	}
	if _, err := p.writer.WriteRows(batch); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return nil
}

// Close writes the file footer. A sink that never received a header writes nothing.
func (p *Parquet) Close() error {
	var err error
	if p.writer != nil {
		if err = p.writer.Close(); err != nil {
			err = fmt.Errorf("close parquet writer: %w", err)
		}
	}
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
