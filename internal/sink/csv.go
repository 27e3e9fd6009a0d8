// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sink

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSV writes rows as comma separated values with a header line. NULL becomes an empty field.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	record []string
}

// NewCSV writes to w. When w is an io.Closer, Close closes it.
func NewCSV(w io.Writer) *CSV {
	c := &CSV{w: csv.NewWriter(w)}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

func (c *CSV) WriteHeader(columns []string) error {
	if err := c.w.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	return nil
}

func (c *CSV) WriteRows(rows [][]any) error {
	for _, row := range rows {
		c.record = c.record[:0]
		for _, v := range row {
			s, _ := formatCell(v)
			c.record = append(c.record, s)
		}
		if err := c.w.Write(c.record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSV) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
