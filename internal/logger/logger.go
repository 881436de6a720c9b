package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfunc/trpg-master/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
	mu     sync.RWMutex

	// 模块日志级别
	moduleLevels map[string]zap.AtomicLevel
)

// Init 初始化日志系统
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		var encoder zapcore.Encoder
		if cfg.Format == "json" {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}

		// 所有核心共用最低级别，模块级别在 GetModuleLogger 中再过滤
		level := parseLevel(cfg.Level)
		enabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= lowestLevel(level, cfg.Modules) })

		var cores []zapcore.Core
		if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), enabler))
		}

		if cfg.Output == "file" || cfg.Output == "both" {
			if err = os.MkdirAll(cfg.File.Path, 0o755); err != nil {
				return
			}

			// 普通日志（支持轮转）
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(cfg.File.Path, cfg.File.Filename),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}), enabler))

			// 错误日志单独一份
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(cfg.File.Path, "error.log"),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}), zapcore.ErrorLevel))
		}

		built := zap.New(
			zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)

		levels := make(map[string]zap.AtomicLevel, len(cfg.Modules)+1)
		levels[""] = zap.NewAtomicLevelAt(level)
		for module, levelStr := range cfg.Modules {
			levels[module] = zap.NewAtomicLevelAt(parseLevel(levelStr))
		}

		mu.Lock()
		logger = built
		sugar = built.Sugar()
		moduleLevels = levels
		mu.Unlock()
	})

	return err
}

// lowestLevel 计算全局与模块中最低的日志级别
func lowestLevel(global zapcore.Level, modules map[string]string) zapcore.Level {
	lowest := global
	for _, s := range modules {
		if l := parseLevel(s); l < lowest {
			lowest = l
		}
	}
	return lowest
}

// parseLevel 解析日志级别
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取日志器，未初始化时返回 Nop 日志器
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// GetSugar 获取Sugar日志器
func GetSugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugar == nil {
		return zap.NewNop().Sugar()
	}
	return sugar
}

// GetModuleLogger 获取模块日志器，模块未单独配置级别时沿用全局级别
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if logger == nil {
		return zap.NewNop()
	}

	lvl, ok := moduleLevels[module]
	if !ok {
		lvl = moduleLevels[""]
	}
	return logger.Named(module).WithOptions(zap.IncreaseLevel(lvl))
}

// SetModuleLevel 运行时调整模块日志级别（配置热更新时使用）
func SetModuleLevel(module, level string) {
	mu.Lock()
	defer mu.Unlock()
	if moduleLevels == nil {
		return
	}
	if lvl, ok := moduleLevels[module]; ok {
		lvl.SetLevel(parseLevel(level))
		return
	}
	moduleLevels[module] = zap.NewAtomicLevelAt(parseLevel(level))
}

// Sync 同步日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()

	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// Debug 输出调试日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// Infof 格式化输出信息日志
func Infof(template string, args ...interface{}) {
	GetSugar().Infof(template, args...)
}

// WithModule 创建带有模块名的日志器
func WithModule(module string) *zap.Logger {
	return GetModuleLogger(module)
}

// LogRequest 记录请求日志
func LogRequest(method, path string, statusCode int, latency time.Duration, clientIP, requestID string) {
	GetModuleLogger("http").Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", statusCode),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
		zap.String("request_id", requestID),
	)
}

// LogPanic 记录panic日志
func LogPanic(recovered interface{}, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}
