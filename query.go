/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgq

import (
	"strconv"
	"strings"
)

// Query is the config-object call shape: statement text with $n
// placeholders, positional arguments, and optional field name overrides for
// object results.
type Query struct {
	Text   string
	Args   []interface{}
	Fields []string
}

// Template builds a Query from a template-call shape: the literal parts of
// the statement with the interpolation slots replaced by $1..$n placeholders
// in appearance order. The result desugars to exactly the positional path,
// byte-identical on the wire.
//
//	Template([]string{"select * from users where id = ", ""}, 42)
//
// is "select * from users where id = $1" with args [42].
func Template(parts []string, args ...interface{}) Query {
	var sb strings.Builder
	for i, part := range parts {
		sb.WriteString(part)
		if i < len(args) {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(i + 1))
		}
	}
	return Query{Text: sb.String(), Args: args}
}
