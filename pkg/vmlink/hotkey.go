package vmlink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"
)

// ErrHotkeyUnsupported is returned where global hotkeys can't be registered
var ErrHotkeyUnsupported = errors.New("global hotkeys are not supported on this platform")

const (
	modAlt      uint32 = 0x0001
	modControl  uint32 = 0x0002
	modShift    uint32 = 0x0004
	modWin      uint32 = 0x0008
	modNoRepeat uint32 = 0x4000
)

var modifierNames = map[string]uint32{
	"alt":     modAlt,
	"ctrl":    modControl,
	"control": modControl,
	"shift":   modShift,
	"win":     modWin,
	"super":   modWin,
}

var namedKeys = map[string]uint32{
	"space":      0x20,
	"pageup":     0x21,
	"pagedown":   0x22,
	"end":        0x23,
	"home":       0x24,
	"insert":     0x2D,
	"delete":     0x2E,
	"pause":      0x13,
	"scrolllock": 0x91,
}

// Hotkey is a parsed key combination, in virtual-key terms
type Hotkey struct {
	Modifiers uint32
	Key       uint32
}

// parseHotkey reads combinations such as "ctrl+alt+m" or "shift+f9". At least one modifier is
// required unless the key is a function key
func parseHotkey(combo string) (Hotkey, error) {
	parts := funk.Map(strings.Split(combo, "+"), func(part string) string {
		return strings.ToLower(strings.TrimSpace(part))
	}).([]string)

	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return Hotkey{}, fmt.Errorf("no key in %q", combo)
	}

	var hk Hotkey

	for _, part := range parts[:len(parts)-1] {
		modifier, ok := modifierNames[part]
		if !ok {
			return Hotkey{}, fmt.Errorf("unknown modifier %q in %q", part, combo)
		}

		hk.Modifiers |= modifier
	}

	key, function, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Hotkey{}, fmt.Errorf("%w in %q", err, combo)
	}

	if hk.Modifiers == 0 && !function {
		return Hotkey{}, fmt.Errorf("%q needs a modifier", combo)
	}

	hk.Key = key

	return hk, nil
}

func parseKey(name string) (uint32, bool, error) {
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return uint32(c - 'a' + 'A'), false, nil
		case c >= '0' && c <= '9':
			return uint32(c), false, nil
		}
	}

	if strings.HasPrefix(name, "f") && len(name) > 1 {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 24 {
			return 0x70 + uint32(n-1), true, nil
		}
	}

	if key, ok := namedKeys[name]; ok {
		return key, false, nil
	}

	return 0, false, fmt.Errorf("unknown key %q", name)
}

func (hk Hotkey) String() string {
	var parts []string

	for _, modifier := range []struct {
		flag uint32
		name string
	}{
		{modControl, "ctrl"},
		{modAlt, "alt"},
		{modShift, "shift"},
		{modWin, "win"},
	} {
		if hk.Modifiers&modifier.flag != 0 {
			parts = append(parts, modifier.name)
		}
	}

	return strings.Join(append(parts, fmt.Sprintf("vk%#02x", hk.Key)), "+")
}
