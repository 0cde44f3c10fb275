/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgq

import (
	"fmt"
	"strings"

	"pgq/internal/conn"
	"pgq/internal/pgtype"
)

// CommandTag is the command completion tag reported by the server, e.g.
// "INSERT 0 1" or "SELECT 2".
type CommandTag = conn.CommandTag

// FieldCountMismatchError reports an explicit field list whose length does
// not match the result's column count.
type FieldCountMismatchError struct {
	Expected int // columns in the result
	Got      int // names supplied
}

func (e *FieldCountMismatchError) Error() string {
	return fmt.Sprintf("field list has %d names but the result has %d columns", e.Got, e.Expected)
}

// DuplicateFieldNameError reports a field list containing the same name
// twice. Comparison is case-insensitive, since map keys would silently
// collide otherwise.
type DuplicateFieldNameError struct {
	Name string
}

func (e *DuplicateFieldNameError) Error() string {
	return fmt.Sprintf("duplicate field name %q in field list", e.Name)
}

// Result holds fully decoded rows in server order.
type Result struct {
	Fields []string
	Rows   [][]interface{}

	tag CommandTag
}

// CommandTag returns the completion tag of the command that produced the
// result.
func (r *Result) CommandTag() CommandTag {
	return r.tag
}

// RowsAffected returns the row count from the command tag.
func (r *Result) RowsAffected() int64 {
	return r.tag.RowsAffected()
}

// ObjectResult holds fully decoded rows keyed by field name.
type ObjectResult struct {
	Fields []string
	Rows   []map[string]interface{}

	tag CommandTag
}

// CommandTag returns the completion tag of the command that produced the
// result.
func (r *ObjectResult) CommandTag() CommandTag {
	return r.tag
}

// RowsAffected returns the row count from the command tag.
func (r *ObjectResult) RowsAffected() int64 {
	return r.tag.RowsAffected()
}

func fieldNames(fds []conn.FieldDescription) []string {
	names := make([]string, len(fds))
	for i := range fds {
		names[i] = string(fds[i].Name)
	}
	return names
}

func decodeRow(raw [][]byte, fds []conn.FieldDescription, registry *pgtype.Registry) ([]interface{}, error) {
	row := make([]interface{}, len(raw))
	for i := range raw {
		v, err := registry.DecodeField(raw[i], fds[i].DataTypeOID, fds[i].Format)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func materializeArray(res *conn.Result, registry *pgtype.Registry) (*Result, error) {
	result := &Result{
		Fields: fieldNames(res.FieldDescriptions),
		Rows:   make([][]interface{}, 0, len(res.Rows)),
		tag:    res.CommandTag(),
	}

	for _, raw := range res.Rows {
		row, err := decodeRow(raw, res.FieldDescriptions, registry)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

// validateFieldList checks an explicit field override against the row shape.
// Both checks run before the first row is decoded.
func validateFieldList(fields []string, columnCount int) error {
	if len(fields) != columnCount {
		return &FieldCountMismatchError{Expected: columnCount, Got: len(fields)}
	}

	seen := make(map[string]struct{}, len(fields))
	for _, name := range fields {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return &DuplicateFieldNameError{Name: name}
		}
		seen[key] = struct{}{}
	}
	return nil
}

func materializeObject(res *conn.Result, registry *pgtype.Registry, fields []string) (*ObjectResult, error) {
	names := fieldNames(res.FieldDescriptions)
	if fields != nil {
		if err := validateFieldList(fields, len(names)); err != nil {
			return nil, err
		}
		names = fields
	}

	result := &ObjectResult{
		Fields: names,
		Rows:   make([]map[string]interface{}, 0, len(res.Rows)),
		tag:    res.CommandTag(),
	}

	for _, raw := range res.Rows {
		row, err := decodeRow(raw, res.FieldDescriptions, registry)
		if err != nil {
			return nil, err
		}
		obj := make(map[string]interface{}, len(row))
		for i := range row {
			obj[names[i]] = row[i]
		}
		result.Rows = append(result.Rows, obj)
	}

	return result, nil
}
