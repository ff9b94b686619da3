// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slogscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MessageKey is the JSON field holding the log message.
	MessageKey = "message"
	// SeverityKey is the JSON field holding the record level.
	SeverityKey = "severity"
	// TimestampKey is the JSON field holding the record time.
	TimestampKey = "timestamp"
	// SourceLocationKey is the JSON field holding the caller location.
	SourceLocationKey = "logging.googleapis.com/sourceLocation"

	envLogLevel  = "SLOGSCOPE_LEVEL"
	envLogSource = "SLOGSCOPE_SOURCE_LOCATION"
	envTarget    = "SLOGSCOPE_TARGET"
)

// ErrInvalidRedirectTarget indicates an unsupported value for SLOGSCOPE_TARGET.
var ErrInvalidRedirectTarget = errors.New("slogscope: invalid redirect target")

// Option mutates Handler construction behaviour when supplied to [NewHandler].
type Option func(*options)

// Handler writes records as JSON lines using Cloud Logging field names. It is
// the engine output a [Logger] usually writes through, though any
// slog.Handler works.
type Handler struct {
	slog.Handler

	cfg              *handlerConfig
	internalLogger   *slog.Logger
	switchableWriter *SwitchableWriter
	ownedFile        *os.File
	rotator          *lumberjack.Logger
	levelVar         *slog.LevelVar

	mu        sync.Mutex
	closeOnce sync.Once
}

type handlerConfig struct {
	Level       slog.Level
	AddSource   bool
	Writer      io.Writer
	FilePath    string
	Rotation    *RotationConfig
	ReplaceAttr func([]string, slog.Attr) slog.Attr
}

// RotationConfig enables size-based rotation of file output. Zero values
// take lumberjack's defaults: 100 MB files, every backup kept forever.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	LocalTime  bool
}

type options struct {
	level          *slog.Level
	levelVar       *slog.LevelVar
	addSource      *bool
	writer         io.Writer
	writerFilePath *string
	rotation       *RotationConfig
	replaceAttr    func([]string, slog.Attr) slog.Attr
	internalLogger *slog.Logger
}

// NewHandler builds a JSON [Handler]. Environment variables provide the
// defaults and options override them. Output goes to defaultWriter unless a
// redirect option or SLOGSCOPE_TARGET says otherwise.
//
//	h, err := slogscope.NewHandler(os.Stdout, slogscope.WithLevel(slog.LevelDebug))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer h.Close()
//	logger := slogscope.NewLogger(h, "orders")
func NewHandler(defaultWriter io.Writer, opts ...Option) (*Handler, error) {
	builder := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}

	internalLogger := builder.internalLogger
	if internalLogger == nil {
		internalLogger = slog.New(slog.DiscardHandler)
	}

	cfg, err := loadConfigFromEnv(internalLogger)
	if err != nil {
		return nil, err
	}
	applyOptions(&cfg, builder)

	if cfg.Writer == nil && cfg.FilePath == "" {
		if defaultWriter != nil {
			cfg.Writer = defaultWriter
		} else {
			cfg.Writer = os.Stdout
		}
	}

	var (
		ownedFile    *os.File
		rotator      *lumberjack.Logger
		switchWriter *SwitchableWriter
	)
	switch {
	case cfg.FilePath != "" && cfg.Rotation != nil:
		rotator = newRotator(cfg.FilePath, cfg.Rotation)
		switchWriter = NewSwitchableWriter(rotator)
		cfg.Writer = switchWriter
	case cfg.FilePath != "":
		file, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("slogscope: open log file %q: %w", cfg.FilePath, err)
		}
		ownedFile = file
		switchWriter = NewSwitchableWriter(file)
		cfg.Writer = switchWriter
	}

	levelVar := builder.levelVar
	if levelVar == nil {
		levelVar = new(slog.LevelVar)
	}
	levelVar.Set(cfg.Level)

	cfgPtr := &cfg
	core := slog.NewJSONHandler(cfgPtr.Writer, &slog.HandlerOptions{
		Level:       levelVar,
		AddSource:   cfgPtr.AddSource,
		ReplaceAttr: replaceAttrFunc(cfgPtr.ReplaceAttr),
	})

	return &Handler{
		Handler:          core,
		cfg:              cfgPtr,
		internalLogger:   internalLogger,
		switchableWriter: switchWriter,
		ownedFile:        ownedFile,
		rotator:          rotator,
		levelVar:         levelVar,
	}, nil
}

// newRotator builds the rotating writer for path.
func newRotator(path string, rc *RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rc.MaxSizeMB,
		MaxBackups: rc.MaxBackups,
		MaxAge:     rc.MaxAgeDays,
		Compress:   rc.Compress,
		LocalTime:  rc.LocalTime,
	}
}

// replaceAttrFunc renames the built-in keys and then applies user, if set.
func replaceAttrFunc(user func([]string, slog.Attr) slog.Attr) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			switch a.Key {
			case slog.MessageKey:
				a.Key = MessageKey
			case slog.TimeKey:
				a.Key = TimestampKey
			case slog.LevelKey:
				a.Key = SeverityKey
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(severityName(lvl))
				}
			case slog.SourceKey:
				a.Key = SourceLocationKey
			}
		}
		if user != nil {
			return user(groups, a)
		}
		return a
	}
}

// severityName maps slog levels onto Cloud Logging severity names.
func severityName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// Close releases the log file opened by the handler. Writers supplied by the
// caller are left open. Only the first call performs work.
func (h *Handler) Close() error {
	var firstErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		if h.switchableWriter != nil {
			if err := h.switchableWriter.Close(); err != nil {
				firstErr = err
				h.internalLogger.Error("failed to close switchable writer", slog.Any("error", err))
			}
			h.switchableWriter = nil
			h.ownedFile = nil
			h.rotator = nil
		}
		h.mu.Unlock()
	})
	return firstErr
}

// ReopenLogFile reopens the log file after external rotation. It is a no-op
// unless the handler writes to a file it opened itself.
func (h *Handler) ReopenLogFile() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg == nil || h.cfg.FilePath == "" || h.switchableWriter == nil {
		return nil
	}

	// lumberjack opens the file again on the next write.
	if h.rotator != nil {
		if err := h.rotator.Close(); err != nil {
			return fmt.Errorf("slogscope: reopen log file %q: %w", h.cfg.FilePath, err)
		}
		return nil
	}

	if h.ownedFile != nil {
		if err := h.ownedFile.Close(); err != nil {
			h.internalLogger.Warn("error closing log file before reopen", slog.Any("error", err))
		}
	}

	file, err := os.OpenFile(h.cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("slogscope: reopen log file %q: %w", h.cfg.FilePath, err)
	}

	h.ownedFile = file
	h.switchableWriter.SetWriter(file)
	return nil
}

// SetLevel updates the minimum level accepted by the handler.
func (h *Handler) SetLevel(level slog.Level) {
	if h == nil || h.levelVar == nil {
		return
	}
	h.levelVar.Set(level)
}

// Level reports the handler's current minimum level.
func (h *Handler) Level() slog.Level {
	if h == nil || h.levelVar == nil {
		return slog.LevelInfo
	}
	return h.levelVar.Level()
}

// LevelVar returns the slog.LevelVar gating records.
func (h *Handler) LevelVar() *slog.LevelVar {
	if h == nil {
		return nil
	}
	return h.levelVar
}

// WithInternalLogger injects a logger for diagnostics about handler setup
// and lifecycle. Diagnostics are discarded by default.
func WithInternalLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.internalLogger = logger
	}
}

// WithLevel sets the minimum level accepted by the handler.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = &level
	}
}

// WithLevelVar shares levelVar with the handler so its level can be changed
// from outside. The handler adopts the LevelVar's current value.
func WithLevelVar(levelVar *slog.LevelVar) Option {
	return func(o *options) {
		if levelVar != nil {
			o.levelVar = levelVar
		}
	}
}

// WithSourceLocationEnabled toggles caller location on emitted records.
func WithSourceLocationEnabled(enabled bool) Option {
	return func(o *options) {
		o.addSource = &enabled
	}
}

// WithRedirectToStdout forces output to stdout.
func WithRedirectToStdout() Option {
	return func(o *options) {
		o.writer = os.Stdout
		o.writerFilePath = nil
	}
}

// WithRedirectToStderr forces output to stderr.
func WithRedirectToStderr() Option {
	return func(o *options) {
		o.writer = os.Stderr
		o.writerFilePath = nil
	}
}

// WithRedirectToFile appends output to the file at path, creating it when
// missing. Parent directories must exist.
func WithRedirectToFile(path string) Option {
	trimmed := strings.TrimSpace(path)
	return func(o *options) {
		o.writer = nil
		o.writerFilePath = &trimmed
	}
}

// WithFileRotation rotates file output by size using lumberjack. It only
// takes effect when output goes to a file, through [WithRedirectToFile] or
// SLOGSCOPE_TARGET.
func WithFileRotation(rc RotationConfig) Option {
	return func(o *options) {
		o.rotation = &rc
	}
}

// WithRedirectWriter sends output to writer without taking ownership of it.
func WithRedirectWriter(writer io.Writer) Option {
	return func(o *options) {
		o.writer = writer
		o.writerFilePath = nil
	}
}

// WithReplaceAttr installs an attribute replacer that runs after the
// built-in key renames, like [slog.HandlerOptions.ReplaceAttr].
func WithReplaceAttr(fn func([]string, slog.Attr) slog.Attr) Option {
	return func(o *options) {
		o.replaceAttr = fn
	}
}

// loadConfigFromEnv reads handler defaults from environment variables.
func loadConfigFromEnv(logger *slog.Logger) (handlerConfig, error) {
	cfg := handlerConfig{Level: slog.LevelInfo}

	cfg.Level = parseLevelEnv(os.Getenv(envLogLevel), cfg.Level, logger)
	cfg.AddSource = parseBoolEnv(os.Getenv(envLogSource), cfg.AddSource, logger)

	if err := applyTargetFromEnv(&cfg, logger); err != nil {
		return handlerConfig{}, err
	}
	return cfg, nil
}

// applyOptions merges user-supplied options into cfg.
func applyOptions(cfg *handlerConfig, o *options) {
	if o.level != nil {
		cfg.Level = *o.level
	}
	if o.levelVar != nil {
		cfg.Level = o.levelVar.Level()
	}
	if o.addSource != nil {
		cfg.AddSource = *o.addSource
	}
	if o.writerFilePath != nil {
		cfg.FilePath = *o.writerFilePath
		cfg.Writer = nil
	}
	if o.writer != nil {
		cfg.Writer = o.writer
		cfg.FilePath = ""
	}
	if o.rotation != nil {
		cfg.Rotation = o.rotation
	}
	if o.replaceAttr != nil {
		cfg.ReplaceAttr = o.replaceAttr
	}
}

// applyTargetFromEnv adjusts the output destination based on SLOGSCOPE_TARGET.
func applyTargetFromEnv(cfg *handlerConfig, logger *slog.Logger) error {
	target := strings.TrimSpace(os.Getenv(envTarget))
	if target == "" {
		return nil
	}

	lower := strings.ToLower(target)
	switch {
	case lower == "stdout":
		cfg.Writer = os.Stdout
	case lower == "stderr":
		cfg.Writer = os.Stderr
	case strings.HasPrefix(lower, "file:"):
		path := strings.TrimSpace(target[len("file:"):])
		if path == "" {
			logDiagnostic(logger, slog.LevelWarn, "empty file target", slog.String("variable", envTarget))
			return ErrInvalidRedirectTarget
		}
		cfg.FilePath = path
		cfg.Writer = nil
	default:
		logDiagnostic(logger, slog.LevelWarn, "unknown SLOGSCOPE_TARGET", slog.String("value", target))
		return ErrInvalidRedirectTarget
	}
	return nil
}

// parseBoolEnv interprets a boolean environment value, keeping current when
// the value is empty or invalid.
func parseBoolEnv(value string, current bool, logger *slog.Logger) bool {
	if strings.TrimSpace(value) == "" {
		return current
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logDiagnostic(logger, slog.LevelWarn, "invalid boolean environment variable", slog.String("value", value), slog.Any("error", err))
		return current
	}
	return b
}

// parseLevelEnv parses a level name or number, keeping current on failure.
func parseLevelEnv(value string, current slog.Level, logger *slog.Logger) slog.Level {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return current
	}

	switch trimmed {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if lv, err := strconv.Atoi(trimmed); err == nil {
			return slog.Level(lv)
		}
	}

	logDiagnostic(logger, slog.LevelWarn, "invalid log level environment variable", slog.String("value", value))
	return current
}

// logDiagnostic emits an internal diagnostic, tolerating a nil logger.
func logDiagnostic(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
