package logging

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// renamedKeys maps slog's built-in keys onto the field names our log
// pipeline indexes on.
var renamedKeys = map[string]string{
	slog.TimeKey:    "timestamp",
	slog.LevelKey:   "severity",
	slog.MessageKey: "message",
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	name, ok := renamedKeys[attr.Key]
	if !ok {
		return attr
	}
	if attr.Key == slog.LevelKey {
		return slog.String(name, strings.ToUpper(attr.Value.String()))
	}
	return slog.Attr{Key: name, Value: attr.Value}
}

// SetupWriter installs a JSON slog logger writing to w as the process
// default and returns it. Every line carries the service name and, when
// set, the environment. The standard library logger is redirected through
// the same handler.
func SetupWriter(w io.Writer, service, env string, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr})

	base := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		base = append(base, slog.String("env", env))
	}
	bound := handler.WithAttrs(base)

	logger := slog.New(bound)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(bound, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}
