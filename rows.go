/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgq

import (
	"fmt"
	"reflect"

	"github.com/georgysavva/scany/dbscan"
)

// ScanAll scans all rows of a Result into dst, a pointer to a slice of
// structs or scalars, using dbscan's column-to-field mapping.
func ScanAll(dst interface{}, result *Result) error {
	return dbscan.ScanAll(dst, &resultRows{result: result, idx: -1})
}

// resultRows adapts a decoded Result to the dbscan.Rows interface.
type resultRows struct {
	result *Result
	idx    int
}

func (r *resultRows) Close() error { return nil }

func (r *resultRows) Err() error { return nil }

func (r *resultRows) Next() bool {
	r.idx++
	return r.idx < len(r.result.Rows)
}

func (r *resultRows) Columns() ([]string, error) {
	return r.result.Fields, nil
}

func (r *resultRows) Scan(dest ...interface{}) error {
	row := r.result.Rows[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("scan expects %d destinations, got %d", len(row), len(dest))
	}
	for i := range dest {
		if err := assignValue(dest[i], row[i]); err != nil {
			return err
		}
	}
	return nil
}

func assignValue(dest interface{}, v interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("scan destination must be a non-nil pointer, got %T", dest)
	}
	ev := dv.Elem()

	if v == nil {
		ev.Set(reflect.Zero(ev.Type()))
		return nil
	}

	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(ev.Type()):
		ev.Set(sv)
	case sv.Type().ConvertibleTo(ev.Type()):
		ev.Set(sv.Convert(ev.Type()))
	default:
		return fmt.Errorf("cannot scan %T into %s", v, ev.Type())
	}
	return nil
}
