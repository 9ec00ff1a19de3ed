package vmlink

import (
	"errors"
	"fmt"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

func comInitialize(logger *zap.SugaredLogger) error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		// E_FALSE means that the call was redundant.
		const eFalse = 1
		oleError := &ole.OleError{}

		if errors.As(err, &oleError) {
			if oleError.Code() == eFalse {
				logger.Debug("CoInitializeEx failed with E_FALSE due to redundant invocation")
				return nil
			}

			logger.Warnw("Failed to call CoInitializeEx",
				"isOleError", true,
				"error", err,
				"oleError", oleError)

			return fmt.Errorf("call CoInitializeEx: %w", err)
		}

		logger.Warnw("Failed to call CoInitializeEx",
			"isOleError", false,
			"error", err,
			"oleError", nil)

		return fmt.Errorf("call CoInitializeEx: %w", err)
	}

	return nil
}

func newDeviceEnumerator(logger *zap.SugaredLogger) (*wca.IMMDeviceEnumerator, error) {
	if err := comInitialize(logger); err != nil {
		return nil, err
	}

	var enumerator *wca.IMMDeviceEnumerator

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&enumerator,
	); err != nil {
		logger.Warnw("Failed to call CoCreateInstance", "error", err)
		ole.CoUninitialize()
		return nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	return enumerator, nil
}
