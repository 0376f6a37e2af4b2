package session

import (
	"fmt"
)

// ConnectionError indicates that a box could not be reached or did not
// present its prompt after connecting.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
