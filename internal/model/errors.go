package model

import "fmt"

// ConfigError reports an invalid configuration. It is always returned
// before any tensor operation runs.
type ConfigError struct {
	Field string
	Msg   string
	Got   int
}

func (e *ConfigError) Error() string {
	if e.Msg != "" && e.Got != 0 {
		return fmt.Sprintf("config: %s %s (got %d)", e.Field, e.Msg, e.Got)
	}
	return fmt.Sprintf("config: %s %s", e.Field, e.Msg)
}

// ShapeError reports an input whose dimensions do not match what the
// forward pass expects.
type ShapeError struct {
	Name string
	Msg  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape: %s %s", e.Name, e.Msg)
}

// MissingInputError reports a required input that was not supplied and
// has no default policy.
type MissingInputError struct {
	Name string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input: %s", e.Name)
}
