package ops

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Format controls the response rendering format.
//
// This is shared across ops handlers that support multiple output formats.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func normalizeFormat(f Format) Format {
	if f != FormatText && f != FormatJSON {
		return FormatText
	}
	return f
}

func formatFromRequest(r *http.Request, def Format) Format {
	if r == nil || r.URL == nil {
		return def
	}
	switch r.URL.Query().Get("format") {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return def
	}
}

// reply is what every handler writes: a JSON document, or text lines.
//
// In text mode a failed reply renders errMsg only; render is called for successful replies.
type reply struct {
	code   int
	ok     bool
	errMsg string
	body   any
	render func() string
}

func writeReply(w http.ResponseWriter, r *http.Request, f Format, rep reply) {
	w.Header().Set("Cache-Control", "no-store")
	switch f {
	case FormatJSON:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(rep.code)
		if r.Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(w).Encode(rep.body)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(rep.code)
		if r.Method == http.MethodHead {
			return
		}
		if !rep.ok {
			// Escape to keep text output stable/greppable and avoid output injection.
			writeTextError(w, escapeTextField(rep.errMsg))
			return
		}
		if rep.render != nil {
			_, _ = w.Write([]byte(rep.render()))
		}
	}
}

func writeTextError(w http.ResponseWriter, msg string) {
	if msg != "" {
		_, _ = w.Write([]byte(msg + "\n"))
		return
	}
	_, _ = w.Write([]byte("error\n"))
}

// lineWriter builds tab-separated, newline-terminated text output.
type lineWriter struct {
	b strings.Builder
}

func (lw *lineWriter) line(fields ...string) {
	for i, f := range fields {
		if i > 0 {
			lw.b.WriteByte('\t')
		}
		lw.b.WriteString(f)
	}
	lw.b.WriteByte('\n')
}

func (lw *lineWriter) String() string { return lw.b.String() }

func escapeTextField(s string) string {
	// Text outputs in ops are line-based and tab-separated.
	// Rules:
	//   - '\'  => '\\'
	//   - '\t' => '\t'
	//   - '\r' => '\r'
	//   - '\n' => '\n'
	//   - other ASCII control chars (0x00-0x1f) => \u00XX
	if s == "" {
		return s
	}
	need := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c < 0x20 {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			if c < 0x20 {
				const hex = "0123456789abcdef"
				b.WriteString(`\u00`)
				b.WriteByte(hex[c>>4])
				b.WriteByte(hex[c&0x0f])
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

func getQueryRequired(r *http.Request, name string) (string, bool) {
	if r == nil || r.URL == nil {
		return "", false
	}
	vs, ok := r.URL.Query()[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}
