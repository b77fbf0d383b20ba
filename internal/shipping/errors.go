package shipping

import (
	"errors"
	"fmt"
)

// ErrIncompleteResponse: the gateway reported success but left out a field
// the caller needs. Retrying the same call does not fix it.
var ErrIncompleteResponse = errors.New("gateway response missing field")

// GatewayError is any failed gateway call: transport, non-2xx, undecodable
// body or result != "1".
type GatewayError struct {
	Op      string
	Status  int
	Result  string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("shipping %s: %v", e.Op, e.Err)
	case e.Status != 0 && e.Status/100 != 2:
		return fmt.Sprintf("shipping %s: http %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("shipping %s: result=%q: %s", e.Op, e.Result, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func missing(op, field string) error {
	return fmt.Errorf("shipping %s: %w: %s", op, ErrIncompleteResponse, field)
}
