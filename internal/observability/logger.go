package observability

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the application logger: JSON to stdout, teed into the
// OTel log bridge when telemetry is on.  Development environments get debug
// level.
func NewLogger(env, serviceName string, withOTel bool) *zap.Logger {
	level := zap.InfoLevel
	if env == "dev" || env == "development" {
		level = zap.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), level)
	if withOTel {
		core = zapcore.NewTee(core, otelzap.NewCore(TracerName,
			otelzap.WithLoggerProvider(global.GetLoggerProvider()),
		))
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", serviceName)),
	)
}
