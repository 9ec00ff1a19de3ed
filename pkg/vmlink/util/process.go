package util

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-ps"
	"github.com/thoas/go-funk"
)

// ProcessRunning reports whether any running process has one of the given executable names.
// Names are compared case-insensitively
func ProcessRunning(names ...string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}

	processes, err := ps.Processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	lowered := funk.Map(names, strings.ToLower).([]string)

	for _, process := range processes {
		if funk.ContainsString(lowered, strings.ToLower(process.Executable())) {
			return true, nil
		}
	}

	return false, nil
}
