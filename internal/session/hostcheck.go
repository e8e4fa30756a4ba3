package session

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

var ErrWrongHost = errors.New("session: unexpected host process")

// CheckHost returns the current process name and fails unless it matches
// expected, ignoring case. An empty expected name accepts any host.
func CheckHost(expected string) (string, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return "", fmt.Errorf("inspect host process: %w", err)
	}
	name, err := p.Name()
	if err != nil {
		return "", fmt.Errorf("read host process name: %w", err)
	}
	if expected != "" && !strings.EqualFold(name, expected) {
		return name, fmt.Errorf("%w: running in %q, want %q", ErrWrongHost, name, expected)
	}
	return name, nil
}
