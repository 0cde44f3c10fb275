package conn

// Result is the raw outcome of one executed command: the row shape, the row
// values as the server sent them, and the command tag. Values are copied out
// of the receive buffer, so a Result stays valid across later commands.
type Result struct {
	FieldDescriptions []FieldDescription
	Rows              [][][]byte // nil element = SQL NULL

	commandTag       CommandTag
	err              error
	commandConcluded bool
}

func (r *Result) concludeCommand(commandTag CommandTag, err error) {
	// Keep the first error that is recorded. Store the error before checking if the command is already concluded to
	// allow for receiving an error after CommandComplete but before ReadyForQuery.
	if err != nil && r.err == nil {
		r.err = err
	}

	if r.commandConcluded {
		return
	}

	r.commandTag = commandTag
}

// appendRow copies one wire row into the result. The input slices alias the
// connection's receive buffer and must not be retained.
func (r *Result) appendRow(values [][]byte) {
	row := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		row[i] = make([]byte, len(v))
		copy(row[i], v)
	}
	r.Rows = append(r.Rows, row)
}

// Err returns the error the command concluded with, if any.
func (r *Result) Err() error {
	return r.err
}

// CommandTag returns the completion tag, e.g. "SELECT 2".
func (r *Result) CommandTag() CommandTag {
	return r.commandTag
}

// RowsAffected is shorthand for CommandTag().RowsAffected().
func (r *Result) RowsAffected() int64 {
	return r.commandTag.RowsAffected()
}
