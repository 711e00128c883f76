package helper

import "fmt"

// NewError wraps err with a short context label. The wrapped error stays
// reachable through errors.Is and errors.As.
func NewError(context string, err error) error {
	return fmt.Errorf("error in %s: %w", context, err)
}
