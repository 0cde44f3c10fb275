/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

// Package pgproto is an encoder and decoder of the PostgreSQL wire protocol version 3.
//
// It knows frame shapes only: message type tags, length prefixes and field
// layouts. It has no knowledge of SQL or of session state.
//
// See https://www.postgresql.org/docs/current/protocol-message-formats.html for meanings of the different messages.
package pgproto
