package vmlink

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

var (
	clsidImmersiveShell      = ole.NewGUID("{C2F03A33-21F5-47FA-B4BB-156362A2F239}")
	iidServiceProvider       = ole.NewGUID("{6D5140C1-7436-11CE-8034-00AA006009FA}")
	iidAudioFlyoutController = ole.NewGUID("{41F9D2FB-7834-4AB6-8B1B-73E74064B465}")
)

type serviceProvider struct {
	ole.IUnknown
}

type serviceProviderVtbl struct {
	ole.IUnknownVtbl
	QueryService uintptr
}

func (v *serviceProvider) vtable() *serviceProviderVtbl {
	return (*serviceProviderVtbl)(unsafe.Pointer(v.RawVTable))
}

func (v *serviceProvider) queryService(sid, iid *ole.GUID, out unsafe.Pointer) error {
	hr, _, _ := syscall.SyscallN(
		v.vtable().QueryService,
		uintptr(unsafe.Pointer(v)),
		uintptr(unsafe.Pointer(sid)),
		uintptr(unsafe.Pointer(iid)),
		uintptr(out),
	)
	if hr != 0 {
		return ole.NewError(hr)
	}
	return nil
}

type audioFlyoutController struct {
	ole.IUnknown
}

type audioFlyoutControllerVtbl struct {
	ole.IUnknownVtbl
	ShowFlyout uintptr
}

func (v *audioFlyoutController) vtable() *audioFlyoutControllerVtbl {
	return (*audioFlyoutControllerVtbl)(unsafe.Pointer(v.RawVTable))
}

func (v *audioFlyoutController) showFlyout(mode, param uint64) error {
	hr, _, _ := syscall.SyscallN(
		v.vtable().ShowFlyout,
		uintptr(unsafe.Pointer(v)),
		uintptr(mode),
		uintptr(param),
	)
	if hr != 0 {
		return ole.NewError(hr)
	}
	return nil
}

// showAudioFlyout pops up the shell's volume flyout, so mirrored engine changes are visible
func showAudioFlyout(logger *zap.SugaredLogger) error {
	// COM apartments are per thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := comInitialize(logger); err != nil {
		return err
	}
	defer ole.CoUninitialize()

	unk, err := ole.CreateInstance(clsidImmersiveShell, iidServiceProvider)
	if err != nil {
		return fmt.Errorf("create immersive shell: %w", err)
	}
	shell := (*serviceProvider)(unsafe.Pointer(unk))
	defer shell.Release()

	var audio *audioFlyoutController
	if err := shell.queryService(iidAudioFlyoutController, iidAudioFlyoutController, unsafe.Pointer(&audio)); err != nil {
		return fmt.Errorf("query audio flyout controller: %w", err)
	}
	defer audio.Release()

	return audio.showFlyout(0, 0)
}
