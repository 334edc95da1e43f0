package util

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// ValidatePort reports whether port can be used as a listen or remote port.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port must be %d-%d", MinPort, MaxPort)
	}
	return nil
}

// ParsePort reads a port number typed by the operator.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port must be %d-%d", MinPort, MaxPort)
	}
	if err := ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}
