package util

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// CreateMutex emulates a named mutex with a pid lock file
func CreateMutex(name string) error {
	lockFile := name + ".lock"
	currentPid := os.Getpid()

	lockContent, err := os.ReadFile(lockFile)
	if err == nil {
		content := strings.TrimSpace(string(lockContent))
		if len(content) > 0 && content != strconv.Itoa(currentPid) {
			lockProcessId, _ := strconv.Atoi(content)
			process, err := os.FindProcess(lockProcessId)
			if err == nil && lockProcessId > 0 {
				if process.Signal(syscall.Signal(0)) == nil {
					return fmt.Errorf("another instance of %s is running", name)
				}
			}
		}
	}

	if err := os.WriteFile(lockFile, []byte(strconv.Itoa(currentPid)), 0664); err != nil {
		return fmt.Errorf("cannot instantiate mutex: %w", err)
	}

	return nil
}

// ShellOpen opens the given file with the desktop's default handler
func ShellOpen(path string) error {
	if err := exec.Command("xdg-open", path).Start(); err != nil {
		return fmt.Errorf("xdg-open %s: %w", path, err)
	}

	return nil
}
