package vmlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHotkey(t *testing.T) {
	cases := map[string]Hotkey{
		"ctrl+alt+m":       {Modifiers: modControl | modAlt, Key: 'M'},
		"Ctrl + Shift + 5": {Modifiers: modControl | modShift, Key: '5'},
		"win+space":        {Modifiers: modWin, Key: 0x20},
		"shift+F9":         {Modifiers: modShift, Key: 0x78},
		"f12":              {Key: 0x7B},
		"alt+pause":        {Modifiers: modAlt, Key: 0x13},
	}

	for combo, expected := range cases {
		hk, err := parseHotkey(combo)
		require.NoError(t, err, combo)
		assert.Equal(t, expected, hk, combo)
	}
}

func TestParseHotkeyRejects(t *testing.T) {
	for _, combo := range []string{
		"",
		"m",
		"ctrl+",
		"hyper+m",
		"ctrl+alt+f25",
		"ctrl+enterr",
	} {
		_, err := parseHotkey(combo)
		assert.Error(t, err, combo)
	}
}

func TestHotkeyString(t *testing.T) {
	hk, err := parseHotkey("alt+ctrl+m")
	require.NoError(t, err)

	assert.Equal(t, "ctrl+alt+vk0x4d", hk.String())
}
