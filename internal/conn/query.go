/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package conn

import (
	"context"
	"errors"
	"fmt"

	"pgq/internal/pgproto"
)

var errConnNotReady = errors.New("connection is not ready for commands")

// featureNotSupported is the SQLSTATE the server reports when a cached plan
// no longer matches the current schema. The statement must be re-prepared.
const featureNotSupported = "0A000"

// Prepare parses and describes sql as a named prepared statement, caching
// the description by statement text. A second Prepare of the same text is a
// cache hit and costs no round trip.
func (c *Conn) Prepare(ctx context.Context, sql string) (*StatementDescription, error) {
	if c.status != statusReady {
		return nil, errConnNotReady
	}
	if sd, ok := c.statements[sql]; ok {
		return sd, nil
	}

	restore, err := c.applyDeadline(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	name := preparedStatementName(sql)

	c.wBuf = c.wBuf[:0]
	c.wBuf = (&pgproto.Parse{Name: name, Query: sql}).Encode(c.wBuf)
	c.wBuf = (&pgproto.Describe{ObjectType: 'S', Name: name}).Encode(c.wBuf)
	c.wBuf = (&pgproto.Sync{}).Encode(c.wBuf)

	n, err := c.conn.Write(c.wBuf)
	if err != nil {
		c.hardClose()
		return nil, &writeError{err: err, safeToRetry: n == 0}
	}

	sd := &StatementDescription{Name: name, SQL: sql}

	var parseErr error
	concluded := false
	for !concluded {
		msg, err := c.receiveMessage()
		if err != nil {
			return nil, err
		}

		switch msg := msg.(type) {
		case *pgproto.ParameterDescription:
			sd.ParamOIDs = append(sd.ParamOIDs, msg.ParameterOIDs...)
		case *pgproto.RowDescription:
			sd.Fields = append(sd.Fields, msg.Fields...)
		case *pgproto.ErrorResponse:
			parseErr = ErrorResponseToPgError(msg)
		case *pgproto.ReadyForQuery:
			concluded = true
		}
	}

	if parseErr != nil {
		return nil, parseErr
	}

	sd.resultFormats = make([]int16, len(sd.Fields))
	for i := range sd.Fields {
		sd.resultFormats[i] = c.registry.ResultFormatForOID(sd.Fields[i].DataTypeOID)
	}

	c.statements[sql] = sd
	return sd, nil
}

// Query executes sql with positional arguments over the extended protocol:
// prepare (cached), bind, execute, sync. The statement and its arguments
// travel separately; sql is never interpolated.
//
// While the session's transaction is in the failed state every statement is
// rejected locally with the same error the server would report, without a
// round trip. Transaction control still works through Exec.
func (c *Conn) Query(ctx context.Context, sql string, args ...interface{}) (*Result, error) {
	if c.status != statusReady {
		return nil, errConnNotReady
	}
	if c.txStatus == txStatusFailedTransaction {
		return nil, txFailedError()
	}

	sd, err := c.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}

	if len(args) != len(sd.ParamOIDs) {
		return nil, fmt.Errorf("statement expects %d arguments, got %d", len(sd.ParamOIDs), len(args))
	}

	restore, err := c.applyDeadline(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	paramFormats := make([]int16, len(args))
	paramValues := make([][]byte, len(args))
	for i := range args {
		oid := sd.ParamOIDs[i]
		paramFormats[i] = c.registry.ParamFormatForOID(oid)
		v, err := c.registry.EncodeParam(nil, args[i], oid, paramFormats[i])
		if err != nil {
			return nil, err
		}
		paramValues[i] = v
	}

	c.wBuf = c.wBuf[:0]
	c.wBuf = (&pgproto.Bind{
		PreparedStatement:    sd.Name,
		ParameterFormatCodes: paramFormats,
		Parameters:           paramValues,
		ResultFormatCodes:    sd.resultFormats,
	}).Encode(c.wBuf)
	c.wBuf = append(c.wBuf, c.sufBuf...)

	n, err := c.conn.Write(c.wBuf)
	if err != nil {
		c.hardClose()
		return nil, &writeError{err: err, safeToRetry: n == 0}
	}

	result := &Result{}
	if err := c.readCommandResponse(sql, result); err != nil {
		return nil, err
	}
	if result.err != nil {
		return nil, result.err
	}
	return result, nil
}

// Exec executes sql over the simple query protocol: no parameters, text
// format results. It is the path for transaction control statements, which
// must stay reachable even while the transaction is failed.
func (c *Conn) Exec(ctx context.Context, sql string) (*Result, error) {
	if c.status != statusReady {
		return nil, errConnNotReady
	}

	restore, err := c.applyDeadline(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	c.wBuf = (&pgproto.Query{String: sql}).Encode(c.wBuf[:0])

	n, err := c.conn.Write(c.wBuf)
	if err != nil {
		c.hardClose()
		return nil, &writeError{err: err, safeToRetry: n == 0}
	}

	result := &Result{}
	if err := c.readCommandResponse(sql, result); err != nil {
		return nil, err
	}
	if result.err != nil {
		return nil, result.err
	}
	return result, nil
}

// readCommandResponse drains the backend stream up to and including
// ReadyForQuery, accumulating rows into result. The connection is back in a
// consistent state when it returns, whatever the command's outcome was.
func (c *Conn) readCommandResponse(sql string, result *Result) error {
	for !result.commandConcluded {
		msg, err := c.receiveMessage()
		if err != nil {
			result.concludeCommand(nil, err)
			return err
		}

		switch msg := msg.(type) {
		case *pgproto.RowDescription:
			result.FieldDescriptions = append(result.FieldDescriptions[:0], msg.Fields...)
		case *pgproto.DataRow:
			result.appendRow(msg.Values)
		case *pgproto.EmptyQueryResponse:
			result.concludeCommand(nil, nil)
		case *pgproto.CommandComplete:
			tag := make(CommandTag, len(msg.CommandTag))
			copy(tag, msg.CommandTag)
			result.concludeCommand(tag, nil)
		case *pgproto.ErrorResponse:
			pgErr := ErrorResponseToPgError(msg)
			if pgErr.Code == featureNotSupported {
				delete(c.statements, sql)
			}
			result.concludeCommand(nil, pgErr)
		case *pgproto.ReadyForQuery:
			result.commandConcluded = true
		}
	}

	return nil
}
