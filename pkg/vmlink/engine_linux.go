package vmlink

import "go.uber.org/zap"

// NewEngine reports ErrEngineUnsupported: the engine's remote API only exists on Windows
func NewEngine(logger *zap.SugaredLogger, dllPath string) (Engine, error) {
	logger.Named("engine").Warnw("No remote API binding for this platform", "dllPath", dllPath)
	return nil, ErrEngineUnsupported
}
