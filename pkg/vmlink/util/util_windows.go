package util

import (
	"errors"
	"fmt"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

// CreateMutex claims a named, session-global mutex so only one instance can run.
// The OS releases it on program exit
func CreateMutex(name string) error {
	namePtr, err := windows.UTF16PtrFromString("Global\\" + name)
	if err != nil {
		return fmt.Errorf("encode mutex name: %w", err)
	}

	_, err = windows.CreateMutex(nil, true, namePtr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		return fmt.Errorf("another instance of %s is running", name)
	}
	if err != nil {
		return fmt.Errorf("create mutex: %w", err)
	}

	return nil
}

// ShellOpen opens the given file with its associated application
func ShellOpen(path string) error {
	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}

	file, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}

	if !win.ShellExecute(0, verb, file, nil, nil, win.SW_SHOWNORMAL) {
		return fmt.Errorf("ShellExecute failed for %s", path)
	}

	return nil
}
