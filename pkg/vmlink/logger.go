package vmlink

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

const (
	buildTypeRelease = "release"

	logDirectory = "logs"
	logFilename  = "vmlink-latest.log"
)

// NewLogger provides a logger instance for the whole program. Release builds log at info
// level unless verbose is set
func NewLogger(buildType string, verbose bool) (*zap.SugaredLogger, error) {
	var loggerConfig zap.Config

	if err := util.EnsureDirExists(logDirectory); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// zap parses output paths as URLs, so keep forward slashes
	logPath := filepath.ToSlash(filepath.Join(logDirectory, logFilename))

	// release builds log to file only, everything else also logs to the console
	if buildType != buildTypeRelease {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.OutputPaths = []string{"stderr", logPath}
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		loggerConfig = zap.NewProductionConfig()
		loggerConfig.OutputPaths = []string{logPath}

		if verbose {
			loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
	}

	loggerConfig.Encoding = "console"

	// no caller, names padded so the columns line up
	loggerConfig.EncoderConfig.EncodeCaller = nil
	loggerConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	loggerConfig.EncoderConfig.EncodeName = func(s string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-27s", s))
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("create zap logger: %w", err)
	}

	return logger.Sugar(), nil
}
