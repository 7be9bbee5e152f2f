package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

type LogType string

const (
	TypeCommand LogType = "CMD"
	TypeDB      LogType = "DB"
	TypeSystem  LogType = "SYS"
	TypeTask    LogType = "TASK"
	TypeHTTP    LogType = "HTTP"
	TypeError   LogType = "ERR"
)

type Options struct {
	Level     slog.Level
	Format    string
	AddSource bool
	Color     bool
	Out       io.Writer
}

// New builds the process logger. Format "json" uses the stdlib JSON handler,
// anything else the colored line handler.
func New(app string, opts Options) *slog.Logger {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(opts.Out, &slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: opts.AddSource,
		}).WithAttrs([]slog.Attr{slog.String("app", app)}))
	}
	return slog.New(NewHandler(app, opts))
}

type CustomHandler struct {
	app    string
	opts   Options
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

func NewHandler(app string, opts Options) *CustomHandler {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &CustomHandler{
		app:    app,
		opts:   opts,
		mu:     &sync.Mutex{},
		attrs:  make([]slog.Attr, 0),
		groups: make([]string, 0),
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CustomHandler{
		app:    h.app,
		opts:   h.opts,
		mu:     h.mu,
		attrs:  merged,
		groups: h.groups,
	}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &CustomHandler{
		app:    h.app,
		opts:   h.opts,
		mu:     h.mu,
		attrs:  h.attrs,
		groups: groups,
	}
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	timestamp := r.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var levelColor, levelText string
	switch {
	case r.Level >= slog.LevelError:
		levelColor, levelText = colorRed, "ERROR"
	case r.Level >= slog.LevelWarn:
		levelColor, levelText = colorYellow, "WARN"
	case r.Level >= slog.LevelInfo:
		levelColor, levelText = colorGreen, "INFO"
	default:
		levelColor, levelText = colorPurple, "DEBUG"
	}

	all := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	all = append(all, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, a)
		return true
	})

	logType := TypeSystem
	status := ""
	var b strings.Builder
	prefix := strings.Join(h.groups, ".")
	for _, a := range all {
		switch a.Key {
		case "type":
			logType = typeFromAttr(a.Value.String())
			continue
		case "status":
			status = a.Value.String()
			continue
		}
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value)
	}

	message := r.Message
	if status != "" {
		message = fmt.Sprintf("%s [Status: %s]", message, status)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.opts.Color {
		_, err := fmt.Fprintf(h.opts.Out, "[%s] [%s] [%s] [%s] %s%s\n",
			h.app, timestamp.Format("15:04:05"), levelText, logType, message, b.String())
		return err
	}
	_, err := fmt.Fprintf(h.opts.Out, "%s[%s] [%s] [%s%s%s] [%s%s%s] %s%s%s\n",
		colorWhite,
		h.app,
		timestamp.Format("15:04:05"),
		levelColor,
		levelText,
		colorWhite,
		colorCyan,
		logType,
		colorWhite,
		message,
		b.String(),
		colorReset,
	)
	return err
}

func typeFromAttr(v string) LogType {
	switch v {
	case "cmd":
		return TypeCommand
	case "db":
		return TypeDB
	case "task":
		return TypeTask
	case "http":
		return TypeHTTP
	case "error":
		return TypeError
	default:
		return TypeSystem
	}
}
