package vmlink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thoas/go-funk"
)

var (
	// ErrEngineUnsupported is returned by NewEngine on platforms without a remote API binding
	ErrEngineUnsupported = errors.New("mixing engine remote API is not available on this platform")

	// ErrNotLoggedIn means there's no confirmed session with the mixing engine
	ErrNotLoggedIn = errors.New("not logged in to mixing engine")

	// ErrHealthCheckFailed means the engine never reported itself as running within the retry budget
	ErrHealthCheckFailed = errors.New("mixing engine did not report running")

	// ErrInvalidChannel is a caller error: the index doesn't exist on the confirmed variant
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidChannelType is returned for unknown channel type names
	ErrInvalidChannelType = errors.New("invalid channel type")
)

// Engine is the remote control surface of the virtual mixing engine
type Engine interface {
	Login() (LoginStatus, error)
	Logout() error

	// Launch asks the OS to start the engine application of the given variant
	Launch(variant Variant, x64 bool) error

	Type() (Variant, error)

	// IsDirty reports whether any parameter changed since the last call
	IsDirty() (bool, error)

	GetParam(name string) (float32, error)
	SetParam(name string, value float32) error

	// Release frees the OS-level resources used to talk to the engine
	Release() error
}

// LoginStatus is the raw result of a login attempt
type LoginStatus int

const (
	LoginOK              LoginStatus = 0
	LoginOKNotLaunched   LoginStatus = 1
	LoginNoClient        LoginStatus = -1
	LoginAlreadyLoggedIn LoginStatus = -2
)

// LoggedIn reports whether the status means we hold a usable session
func (s LoginStatus) LoggedIn() bool {
	return s == LoginOK || s == LoginAlreadyLoggedIn
}

func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "ok"
	case LoginOKNotLaunched:
		return "ok, engine not launched"
	case LoginNoClient:
		return "cannot get client"
	case LoginAlreadyLoggedIn:
		return "already logged in"
	default:
		return fmt.Sprintf("unknown (%d)", int(s))
	}
}

// Variant identifies one of the fixed editions of the mixing engine
type Variant int

const (
	VariantUnknown  Variant = 0
	VariantStandard Variant = 1
	VariantBanana   Variant = 2
	VariantPotato   Variant = 3
)

type variantLimits struct {
	name   string
	strips uint
	buses  uint
}

var variants = map[Variant]variantLimits{
	VariantStandard: {name: "Voicemeeter", strips: 3, buses: 2},
	VariantBanana:   {name: "Voicemeeter Banana", strips: 5, buses: 5},
	VariantPotato:   {name: "Voicemeeter Potato", strips: 8, buses: 8},
}

// Limits returns the strip and bus counts of the variant
func (v Variant) Limits() (strips uint, buses uint, ok bool) {
	limits, ok := variants[v]
	return limits.strips, limits.buses, ok
}

func (v Variant) Valid() bool {
	_, ok := variants[v]
	return ok
}

func (v Variant) String() string {
	if limits, ok := variants[v]; ok {
		return limits.name
	}

	return fmt.Sprintf("variant(%d)", int(v))
}

// ChannelType selects between input strips and output buses
type ChannelType int

const (
	ChannelInput ChannelType = iota
	ChannelOutput
)

var (
	inputTypeNames  = []string{"input", "strip", "in"}
	outputTypeNames = []string{"output", "bus", "out"}
)

// ParseChannelType accepts "input"/"strip" and "output"/"bus", case-insensitively
func ParseChannelType(name string) (ChannelType, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))

	switch {
	case funk.ContainsString(inputTypeNames, normalized):
		return ChannelInput, nil
	case funk.ContainsString(outputTypeNames, normalized):
		return ChannelOutput, nil
	}

	return ChannelInput, fmt.Errorf("%w: %q", ErrInvalidChannelType, name)
}

func (t ChannelType) String() string {
	if t == ChannelOutput {
		return "Bus"
	}

	return "Strip"
}

// ChannelRef addresses one strip or bus
type ChannelRef struct {
	Type  ChannelType
	Index uint
}

func (r ChannelRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Type, r.Index)
}

func (r ChannelRef) param(field string) string {
	return fmt.Sprintf("%s[%d].%s", r.Type, r.Index, field)
}

// GainParam is the engine parameter holding the channel's gain in dB
func (r ChannelRef) GainParam() string {
	return r.param("Gain")
}

// MuteParam is the engine parameter holding the channel's mute state (0 or 1)
func (r ChannelRef) MuteParam() string {
	return r.param("Mute")
}

const paramRestart = "Command.Restart"
