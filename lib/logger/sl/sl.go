// Package sl содержит мелкие помощники для работы с log/slog.
package sl

import "log/slog"

// Err оборачивает ошибку в slog.Attr с ключом "error", чтобы не повторять
// slog.String("error", err.Error()) на каждом вызове log.Error.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}
