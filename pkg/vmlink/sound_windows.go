package vmlink

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	sndSync      = 0x0000
	sndNoDefault = 0x0002
	sndFilename  = 0x00020000
)

var (
	winmm         = windows.NewLazySystemDLL("winmm.dll")
	procPlaySound = winmm.NewProc("PlaySoundW")
)

func playSoundFile(path string) error {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("encode sound path: %w", err)
	}

	ret, _, callErr := procPlaySound.Call(uintptr(unsafe.Pointer(pathPtr)), 0, sndSync|sndNoDefault|sndFilename)
	if ret == 0 {
		return fmt.Errorf("PlaySoundW: %w", callErr)
	}

	return nil
}
