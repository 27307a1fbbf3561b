package utils

import "fmt"

// DependencyError reports a failed optional dependency (cache, webhooks) so
// startup can degrade to a fallback instead of aborting.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
