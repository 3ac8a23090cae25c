package query

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

// DuckDB's JSON reader is an extension the driver does not bundle, so
// JSON-lines tables are parsed here and inserted row by row.

type jsonlColumn struct {
	name     string
	bools    int
	ints     int
	floats   int
	texts    int
	nonEmpty int
}

// sqlType picks the narrowest type holding every value of the column.
// Columns with only nulls are DOUBLE so NaN-derived gaps stay numeric.
func (c *jsonlColumn) sqlType() string {
	switch {
	case c.nonEmpty == 0:
		return "DOUBLE"
	case c.bools == c.nonEmpty:
		return "BOOLEAN"
	case c.ints == c.nonEmpty:
		return "BIGINT"
	case c.ints+c.floats == c.nonEmpty:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

func (c *jsonlColumn) observe(v interface{}) {
	switch x := v.(type) {
	case nil:
		return
	case bool:
		c.bools++
	case json.Number:
		if _, err := x.Int64(); err == nil {
			c.ints++
		} else {
			c.floats++
		}
	default:
		c.texts++
	}
	c.nonEmpty++
}

// convert returns v as a driver argument for a column of type typ.
func convert(v interface{}, typ string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case "BIGINT":
		return v.(json.Number).Int64()
	case "DOUBLE":
		return v.(json.Number).Float64()
	case "BOOLEAN":
		return v, nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	default:
		b, err := json.Marshal(x)
		return string(b), err
	}
}

// readJSONLObject decodes one flat object, keeping the key order.
func readJSONLObject(line []byte) ([]string, map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected an object, got %v", tok)
	}

	var keys []string
	values := make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected a key, got %v", tok)
		}
		v, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		switch x := v.(type) {
		case json.Delim:
			return nil, nil, fmt.Errorf("nested value for key %q", key)
		case json.Number:
			v = json.Number(strings.Clone(string(x)))
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = v
	}
	return keys, values, nil
}

// loadJSONL copies a JSON-lines file into table. Columns appear in the
// order their keys are first seen.
func (e *Engine) loadJSONL(ctx context.Context, table, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to open table").WithContext("path", path)
	}
	defer f.Close()

	var (
		columns []*jsonlColumn
		index   = make(map[string]*jsonlColumn)
		rows    []map[string]interface{}
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		keys, values, err := readJSONLObject(text)
		if err != nil {
			return errors.Wrap(err, errors.CodeInput, "invalid JSON line").
				WithContext("path", path).WithContext("line", line)
		}
		for _, k := range keys {
			c, ok := index[k]
			if !ok {
				c = &jsonlColumn{name: k}
				index[k] = c
				columns = append(columns, c)
			}
			c.observe(values[k])
		}
		rows = append(rows, values)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to read table").WithContext("path", path)
	}
	if len(columns) == 0 {
		return errors.Newf(errors.CodeInput, "table %q has no columns", path)
	}

	types := make([]string, len(columns))
	defs := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		types[i] = c.sqlType()
		defs[i] = quote(c.name) + " " + types[i]
		marks[i] = "?"
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to begin load")
	}
	defer tx.Rollback()

	create := fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to create table").WithContext("path", path)
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(marks, ", ")))
	if err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to prepare load")
	}
	defer stmt.Close()

	args := make([]interface{}, len(columns))
	for r, row := range rows {
		for i, c := range columns {
			if args[i], err = convert(row[c.name], types[i]); err != nil {
				return errors.Wrap(err, errors.CodeInput, "failed to convert value").
					WithContext("path", path).WithContext("column", c.name)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, errors.CodeInput, "failed to load row").
				WithContext("path", path).WithContext("row", r)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeInput, "failed to commit load").WithContext("path", path)
	}
	return nil
}
