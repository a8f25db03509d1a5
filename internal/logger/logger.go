// internal/logger/logger.go
// Implements logging configuration and initialization using zerolog and lumberjack for log rotation and formatting.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds configuration for the logger
type LogConfig struct {
	Level      string `json:"level"` // debug, info, warn, error, fatal
	LogToFile  bool   `json:"log_to_file"`
	LogToJSON  bool   `json:"log_to_json"`
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"`    // megabytes
	MaxBackups int    `json:"max_backups"` // number of backups
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`    // compress old log files
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogToFile:  false,
		LogToJSON:  false,
		FilePath:   "chatrelay.log",
		MaxSize:    10, // 10 MB
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// InitLogger initializes the global zerolog logger with the given configuration.
// Console output goes to out (stdout when nil).
func InitLogger(config LogConfig, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if config.LogToJSON {
		writers = append(writers, out)
	} else {
		writers = append(writers, consoleWriter(out))
	}

	if config.LogToFile && config.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	var output io.Writer
	if len(writers) > 1 {
		output = io.MultiWriter(writers...)
	} else {
		output = writers[0]
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"component",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"component"},
		FormatLevel: func(i interface{}) string {
			level := strings.ToUpper(fmt.Sprintf("%s", i))
			color := "37"
			switch level {
			case "DEBUG":
				color = "36"
			case "INFO":
				color = "32"
			case "WARN":
				color = "33"
			case "ERROR":
				color = "31"
			case "FATAL":
				color = "35"
			}
			return "\033[" + color + "m[ " + fmt.Sprintf("%-5s", level) + " ]\033[0m"
		},
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprintf("\033[90m%s\033[0m", i)
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("\033[1m%s\033[0m", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[34m%s\033[0m: ", i)
		},
		FormatErrFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[31m%s\033[0m: ", i)
		},
		FormatErrFieldValue: func(i interface{}) string {
			return fmt.Sprintf("\033[31m%s\033[0m", i)
		},
	}
}

// Logger is a wrapper around zerolog.Logger that carries a component name
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new logger with the given component name
func NewLogger(component string) *Logger {
	return &Logger{
		logger: log.With().Str("component", component).Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{
		logger: ctx.Logger(),
	}
}

func (l *Logger) Debug(msg string)                       { l.logger.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
func (l *Logger) Info(msg string)                        { l.logger.Info().Msg(msg) }
func (l *Logger) Infof(format string, v ...interface{})  { l.logger.Info().Msgf(format, v...) }
func (l *Logger) Warn(msg string)                        { l.logger.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l *Logger) Error(msg string)                       { l.logger.Error().Msg(msg) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
func (l *Logger) Fatal(msg string)                       { l.logger.Fatal().Msg(msg) }
func (l *Logger) Fatalf(format string, v ...interface{}) { l.logger.Fatal().Msgf(format, v...) }

// LogEvent logs a chat lifecycle event. Routine events get a short
// coloured line; anything else is logged with its full context.
func (l *Logger) LogEvent(level string, event string, username string, detail string) {
	var message string

	switch event {
	case "client_connected":
		message = "Connection opened"
		if detail != "" {
			message = fmt.Sprintf("Connection from \033[96m%s\033[0m", detail)
		}

	case "client_disconnected":
		message = "Connection closed"
		if detail != "" {
			message = fmt.Sprintf("Connection from \033[96m%s\033[0m closed", detail)
		}

	case "user_joined":
		message = "User joined"
		if username != "" {
			message = fmt.Sprintf("\033[96m%s\033[0m joined", username)
		}

	case "user_left":
		message = "User left"
		if username != "" {
			message = fmt.Sprintf("\033[96m%s\033[0m left", username)
		}

	case "message_received":
		switch {
		case username != "" && detail != "":
			message = fmt.Sprintf("\033[95m%s\033[0m: \033[97m%s\033[0m", username, detail)
		case username != "":
			message = fmt.Sprintf("Message from \033[95m%s\033[0m", username)
		default:
			message = "Message received"
		}

	case "read_error":
		evt := l.logger.With().Str("event", event)
		if username != "" {
			evt = evt.Str("username", username)
		}
		message = "ERROR: Read error occurred"
		if detail != "" {
			evt = evt.Str("detail", detail)
			message = fmt.Sprintf("ERROR: \033[31m%s\033[0m", detail)
		}
		logger := evt.Logger()
		logger.Error().Msg(message)
		return

	default:
		evt := l.logger.With().Str("event", event)
		if username != "" {
			evt = evt.Str("username", username)
		}
		message = strings.ReplaceAll(event, "_", " ")
		if detail != "" {
			evt = evt.Str("detail", detail)
			message = fmt.Sprintf("%s: %s", message, detail)
		}
		logger := evt.Logger()
		emit(&logger, level, message)
		return
	}

	emit(&l.logger, level, message)
}

func emit(logger *zerolog.Logger, level, message string) {
	switch level {
	case "debug":
		logger.Debug().Msg(message)
	case "warn":
		logger.Warn().Msg(message)
	case "error":
		logger.Error().Msg(message)
	case "fatal":
		logger.Fatal().Msg(message)
	default:
		logger.Info().Msg(message)
	}
}
