package vmlink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

const (
	crashlogFilename        = "vmlink-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `-----------------------------------------------------------------
                        vmlink crashlog
-----------------------------------------------------------------
Unfortunately, vmlink has crashed.
To help diagnose the issue, a crashlog has been generated.
Please consider sharing this file with developers to help improve vmlink.
You can do so by opening an issue at: https://github.com/MixyLabs/vmlink/issues/new
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (v *VMLink) recoverFromPanic() {
	r := recover()

	if r == nil {
		return
	}

	crashlogPath, err := writeCrashlog(logDirectory, time.Now(), r, debug.Stack())
	if err != nil {
		panic(err)
	}

	v.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	v.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	// the engine session is released even on the way down
	if v.sessions != nil {
		_ = v.sessions.Shutdown()
	}

	v.logger.Errorw("Quitting", "exitCode", 1)
	os.Exit(1)
}

func writeCrashlog(dir string, now time.Time, r any, stack []byte) (string, error) {
	if err := util.EnsureDirExists(dir); err != nil {
		return "", fmt.Errorf("ensure crashlog dir exists: %w", err)
	}

	crashlogBytes := bytes.NewBufferString(fmt.Sprintf(crashMessage, now.Format(crashlogTimestampFormat), r, stack))
	crashlogPath := filepath.Join(dir, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := os.WriteFile(crashlogPath, crashlogBytes.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("can't even write the crashlog file contents: %w", err)
	}

	return crashlogPath, nil
}
