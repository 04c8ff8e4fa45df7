// Package logging contains the structured logger shared across speedboard
// in a way that keeps the terminal free for the dashboard itself.
package logging

import (
	"io"
	golog "log"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/gorilla/handlers"
)

// Logger is a logger that logs messages in a structured JSON format, to
// simplify processing. It starts out pointed at the standard error, which
// suits the headless tools; the dashboard redirects it to a file with
// SetOutput before taking over the terminal.
var Logger = log.Logger{
	Handler: json.New(os.Stderr),
	Level:   log.DebugLevel,
}

// SetOutput points the logger at w, keeping the JSON format.
func SetOutput(w io.Writer) {
	Logger.Handler = json.New(w)
}

// MakeAccessLogHandler wraps |handler| with another handler that logs
// access to each resource on the standard output. We do not emit JSON
// access logs, because access logs are a fairly standard format that
// has been around for a long time now, so better to follow such standard.
func MakeAccessLogHandler(handler http.Handler) http.Handler {
	return handlers.LoggingHandler(golog.Writer(), handler)
}
