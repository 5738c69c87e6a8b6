package config

import "fmt"

// Error is returned for configuration files that cannot be loaded or are invalid.
type Error struct {
	reason string
}

func (e Error) Error() string {
	return fmt.Sprintf("config error: %s", e.reason)
}
