// Package slogpretty настраивает log/slog под три окружения запуска:
// цветной построчный вывод для локальной разработки и обычный JSON для
// dev/prod, где логи парсит агрегатор, а не читает человек в терминале.
package slogpretty

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// SetupLogger возвращает логгер, сконфигурированный под окружение env.
func SetupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(newPrettyHandler(os.Stdout, slog.LevelDebug))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

// PrettyHandler печатает каждую запись одной строкой:
// время, уровень (с цветом), сообщение, затем JSON-блок с атрибутами.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	out   io.Writer
	attrs []slog.Attr
}

func newPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	return &PrettyHandler{
		opts: slog.HandlerOptions{Level: level},
		out:  out,
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := levelLabel(r.Level)
	timeStr := r.Time.Format("15:04:05.000")

	fields := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	var fieldsJSON []byte
	if len(fields) > 0 {
		b, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return fmt.Errorf("can't marshal log fields: %v", err)
		}
		fieldsJSON = b
	}

	msg := color.CyanString(r.Message)

	if len(fieldsJSON) > 0 {
		_, err := fmt.Fprintf(h.out, "%s %s %s %s\n", timeStr, level, msg, string(fieldsJSON))
		return err
	}

	_, err := fmt.Fprintf(h.out, "%s %s %s\n", timeStr, level, msg)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &PrettyHandler{opts: h.opts, out: h.out, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *PrettyHandler) WithGroup(_ string) slog.Handler {
	// Группы не используются нигде в коде: плоский набор атрибутов
	// достаточен для объема логов этого приложения.
	return h
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return color.RedString("ERROR")
	case level >= slog.LevelWarn:
		return color.YellowString("WARN")
	case level >= slog.LevelInfo:
		return color.GreenString("INFO")
	default:
		return color.WhiteString("DEBUG")
	}
}
