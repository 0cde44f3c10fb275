/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package conn

import (
	"crypto/sha256"
	"encoding/hex"

	"pgq/internal/pgproto"
)

// FieldDescription re-exports the codec-level column description.
type FieldDescription = pgproto.FieldDescription

// StatementDescription is a prepared statement's server-assigned metadata:
// its parameter type OIDs and the row shape it produces. It is valid only on
// the connection that prepared it.
type StatementDescription struct {
	Name          string
	SQL           string
	ParamOIDs     []uint32
	Fields        []FieldDescription
	resultFormats []int16
}

// preparedStatementName derives the deterministic server-side name for a
// statement text, so re-preparing the same text is a cache hit across the
// connection's lifetime.
func preparedStatementName(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return "pgq_" + hex.EncodeToString(sum[:12])
}
