package vmlink

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	remoteDLLName = "VoicemeeterRemote64.dll"

	uninstallKeyPath = `SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall\VB:Voicemeeter {17359A74-1236-5467}`
	uninstallValue   = "UninstallString"

	// 64-bit builds of each variant are launched with the variant id offset by this much
	x64LaunchOffset = 3
)

type remoteEngine struct {
	logger *zap.SugaredLogger
	dll    *windows.DLL

	login         *windows.Proc
	logout        *windows.Proc
	run           *windows.Proc
	getType       *windows.Proc
	isDirty       *windows.Proc
	getParamFloat *windows.Proc
	setParamFloat *windows.Proc
}

// NewEngine loads the engine's remote API library. An empty dllPath means "find the installed one"
func NewEngine(logger *zap.SugaredLogger, dllPath string) (Engine, error) {
	logger = logger.Named("engine")

	if dllPath == "" {
		installed, err := installedDLLPath()
		if err != nil {
			logger.Warnw("Failed to locate engine installation", "error", err)
			return nil, fmt.Errorf("locate engine installation: %w", err)
		}

		dllPath = installed
	}

	dll, err := windows.LoadDLL(dllPath)
	if err != nil {
		logger.Warnw("Failed to load remote API library", "path", dllPath, "error", err)
		return nil, fmt.Errorf("load %s: %w", dllPath, err)
	}

	e := &remoteEngine{logger: logger, dll: dll}

	procs := []struct {
		target **windows.Proc
		name   string
	}{
		{&e.login, "VBVMR_Login"},
		{&e.logout, "VBVMR_Logout"},
		{&e.run, "VBVMR_RunVoicemeeter"},
		{&e.getType, "VBVMR_GetVoicemeeterType"},
		{&e.isDirty, "VBVMR_IsParametersDirty"},
		{&e.getParamFloat, "VBVMR_GetParameterFloat"},
		{&e.setParamFloat, "VBVMR_SetParameterFloat"},
	}

	for _, proc := range procs {
		found, err := dll.FindProc(proc.name)
		if err != nil {
			_ = dll.Release()
			logger.Warnw("Remote API library is missing a function", "function", proc.name, "error", err)
			return nil, fmt.Errorf("resolve %s: %w", proc.name, err)
		}

		*proc.target = found
	}

	logger.Debugw("Loaded remote API library", "path", dllPath)

	return e, nil
}

func installedDLLPath() (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, uninstallKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("open uninstall key: %w", err)
	}
	defer key.Close()

	uninstaller, _, err := key.GetStringValue(uninstallValue)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", uninstallValue, err)
	}

	return filepath.Join(filepath.Dir(strings.Trim(uninstaller, `"`)), remoteDLLName), nil
}

func (e *remoteEngine) Login() (LoginStatus, error) {
	ret, _, _ := e.login.Call()
	return LoginStatus(int32(ret)), nil
}

func (e *remoteEngine) Logout() error {
	if ret, _, _ := e.logout.Call(); int32(ret) != 0 {
		return fmt.Errorf("VBVMR_Logout returned %d", int32(ret))
	}

	return nil
}

func (e *remoteEngine) Launch(variant Variant, x64 bool) error {
	id := int32(variant)
	if x64 {
		id += x64LaunchOffset
	}

	if ret, _, _ := e.run.Call(uintptr(id)); int32(ret) != 0 {
		return fmt.Errorf("VBVMR_RunVoicemeeter(%d) returned %d", id, int32(ret))
	}

	return nil
}

func (e *remoteEngine) Type() (Variant, error) {
	var variant int32

	if ret, _, _ := e.getType.Call(uintptr(unsafe.Pointer(&variant))); int32(ret) != 0 {
		return VariantUnknown, fmt.Errorf("VBVMR_GetVoicemeeterType returned %d", int32(ret))
	}

	return Variant(variant), nil
}

func (e *remoteEngine) IsDirty() (bool, error) {
	ret, _, _ := e.isDirty.Call()

	code := int32(ret)
	if code < 0 {
		return false, fmt.Errorf("VBVMR_IsParametersDirty returned %d", code)
	}

	return code == 1, nil
}

func (e *remoteEngine) GetParam(name string) (float32, error) {
	namePtr, err := windows.BytePtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("encode parameter name: %w", err)
	}

	var value float32

	ret, _, _ := e.getParamFloat.Call(uintptr(unsafe.Pointer(namePtr)), uintptr(unsafe.Pointer(&value)))
	if int32(ret) != 0 {
		return 0, fmt.Errorf("VBVMR_GetParameterFloat(%s) returned %d", name, int32(ret))
	}

	return value, nil
}

func (e *remoteEngine) SetParam(name string, value float32) error {
	namePtr, err := windows.BytePtrFromString(name)
	if err != nil {
		return fmt.Errorf("encode parameter name: %w", err)
	}

	// the runtime mirrors the first arguments into the XMM registers, so the float's bits go through as-is
	ret, _, _ := e.setParamFloat.Call(uintptr(unsafe.Pointer(namePtr)), uintptr(math.Float32bits(value)))
	if int32(ret) != 0 {
		return fmt.Errorf("VBVMR_SetParameterFloat(%s) returned %d", name, int32(ret))
	}

	return nil
}

func (e *remoteEngine) Release() error {
	if e.dll == nil {
		return nil
	}

	err := e.dll.Release()
	e.dll = nil

	if err != nil {
		return fmt.Errorf("release remote API library: %w", err)
	}

	e.logger.Debug("Released remote API library")

	return nil
}
