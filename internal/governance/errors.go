package governance

import "fmt"

// AccessDenied is returned when a role may not access a layer in a mode.
type AccessDenied struct {
	Role  string
	Layer Layer
	Mode  Mode
}

func (e *AccessDenied) Error() string {
	return fmt.Sprintf("access denied: role %q cannot %s layer %q", e.Role, e.Mode, e.Layer)
}

// MissingInput is returned when an upstream partition a stage needs is absent.
type MissingInput struct {
	Path string
	// Hint names the command that produces the missing input.
	Hint string
}

func (e *MissingInput) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("missing input: %s", e.Path)
	}
	return fmt.Sprintf("missing input: %s (run `%s` first)", e.Path, e.Hint)
}

// MalformedPartition is returned when a partition cannot be read or does not
// have the expected shape. Erasure never skips such a partition.
type MalformedPartition struct {
	Layer Layer
	Path  string
	Err   error
}

func (e *MalformedPartition) Error() string {
	return fmt.Sprintf("malformed partition in layer %q at %s: %v", e.Layer, e.Path, e.Err)
}

func (e *MalformedPartition) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned when configuration or the role policy is
// missing or invalid.
type ConfigurationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Path != "" {
		msg += " in " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
