package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Column is one (name, value) pair of a result row.
type Column struct {
	Name  string
	Value any
}

// Row keeps result columns in the order the server returned them. It
// encodes to a JSON object whose keys follow that order.
type Row []Column

// Get returns the value of the first column with the given name.
func (r Row) Get(name string) (any, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, c := range r {
		m[c.Name] = c.Value
	}
	return m
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping key order. Numbers decode as
// json.Number.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row: expected JSON object, got %v", tok)
	}

	row := Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row: expected column name, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("row: column %q: %w", name, err)
		}
		row = append(row, Column{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = row
	return nil
}

// Result is the outcome of one statement: rows when the statement returns
// columns, otherwise only the affected-row count.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
	CommandTag   string
	// Truncated is set when the row cap of the request stopped collection.
	Truncated bool
}

// HasRows reports whether the statement produced a result set.
func (r *Result) HasRows() bool {
	return len(r.Columns) > 0
}
