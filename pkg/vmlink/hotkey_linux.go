package vmlink

import "go.uber.org/zap"

type hotkeyListener struct{}

func startHotkeyListener(logger *zap.SugaredLogger, hk Hotkey, onPress func()) (*hotkeyListener, error) {
	return nil, ErrHotkeyUnsupported
}

func (hl *hotkeyListener) Stop() {}
