package conn

// Connection lifecycle states.
const (
	statusDisconnected byte = iota
	statusConnecting
	statusAuthenticating
	statusReady
	statusClosed
)

// Transaction status bytes as carried by ReadyForQuery.
const (
	txStatusIdle              byte = 'I'
	txStatusInTransaction     byte = 'T'
	txStatusFailedTransaction byte = 'E'
)

const wbufLen = 1024
