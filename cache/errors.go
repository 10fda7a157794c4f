package cache

import "fmt"

// ProtocolError reports a malformed command or reply. It is never retried.
type ProtocolError struct {
	Op  string
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache: protocol error on %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("cache: protocol error on %s: %s", e.Op, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a refused, reset or timed out connection.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cache: transport error on %s (%s): %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError reports that the backing table is unavailable or rejected a statement.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: storage error on %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
