package ops

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

type logLevelConfig struct {
	format Format
}

// LogLevelOption configures LogLevelHandler.
type LogLevelOption func(*logLevelConfig)

// WithLogLevelDefaultFormat sets the default response format. Default is FormatText.
func WithLogLevelDefaultFormat(f Format) LogLevelOption {
	return func(c *logLevelConfig) { c.format = f }
}

// LogLevelSnapshot is a point-in-time snapshot of a slog.LevelVar.
type LogLevelSnapshot struct {
	// Level is one of debug/info/warn/error.
	Level string `json:"level"`
	// LevelValue is the numeric slog level.
	LevelValue int `json:"level_value"`
}

// LogLevel returns a snapshot of lv.
func LogLevel(lv *slog.LevelVar) LogLevelSnapshot {
	if lv == nil {
		return LogLevelSnapshot{}
	}
	l := lv.Level()
	return LogLevelSnapshot{Level: levelToEnum(l), LevelValue: int(l)}
}

type logLevelResponse struct {
	OK    bool              `json:"ok"`
	Error string            `json:"error,omitempty"`
	Old   *LogLevelSnapshot `json:"old,omitempty"`
	Log   *LogLevelSnapshot `json:"log,omitempty"`
}

// LogLevelHandler returns a handler that reads or changes lv.
//
//   - GET/HEAD reports the current level.
//   - POST ?level=debug|info|warn|error sets it ("warning" and "err" are accepted) and
//     reports the old and new level.
func LogLevelHandler(lv *slog.LevelVar, opts ...LogLevelOption) http.Handler {
	if lv == nil {
		panic("ops: nil slog.LevelVar")
	}
	cfg := logLevelConfig{format: FormatText}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.format = normalizeFormat(cfg.format)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := formatFromRequest(r, cfg.format)
		fail := func(code int, msg string) {
			writeReply(w, r, format, reply{code: code, errMsg: msg, body: logLevelResponse{Error: msg}})
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead:
			cur := LogLevel(lv)
			writeReply(w, r, format, reply{
				code:   http.StatusOK,
				ok:     true,
				body:   logLevelResponse{OK: true, Log: &cur},
				render: func() string { return renderLogLevelText(nil, cur) },
			})
		case http.MethodPost:
			raw, _ := getQueryRequired(r, "level")
			enum, ok := normalizeLevelEnum(raw)
			if !ok {
				fail(http.StatusBadRequest, "invalid level (want one of: debug, info, warn, error)")
				return
			}
			old := LogLevel(lv)
			lv.Set(enumToLevel(enum))
			cur := LogLevel(lv)
			writeReply(w, r, format, reply{
				code:   http.StatusOK,
				ok:     true,
				body:   logLevelResponse{OK: true, Old: &old, Log: &cur},
				render: func() string { return renderLogLevelText(&old, cur) },
			})
		default:
			w.Header().Set("Allow", "GET, HEAD, POST")
			fail(http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func renderLogLevelText(old *LogLevelSnapshot, cur LogLevelSnapshot) string {
	var lw lineWriter
	if old != nil {
		lw.line("log", "old_level", old.Level)
		lw.line("log", "old_level_value", strconv.Itoa(old.LevelValue))
	}
	lw.line("log", "level", cur.Level)
	lw.line("log", "level_value", strconv.Itoa(cur.LevelValue))
	return lw.String()
}

func normalizeLevelEnum(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "warning":
		s = "warn"
	case "err":
		s = "error"
	}
	switch s {
	case "debug", "info", "warn", "error":
		return s, true
	default:
		return "", false
	}
}

// levelToEnum buckets custom levels into the four standard names.
func levelToEnum(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func enumToLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
