package registry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/EmpoweredVote/instance-registry/internal/logging"
	"github.com/go-kit/log"
)

type errorBody struct {
	Error      string   `json:"error"`
	Fields     []string `json:"fields,omitempty"`
	Reason     Reason   `json:"reason,omitempty"`
	StatusCode int      `json:"statusCode,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err for the client. Internal errors are logged with their
// cause and reported with a generic message.
func writeError(w http.ResponseWriter, logger log.Logger, operation string, err error) {
	e := AsError(err)
	if e == nil {
		e = NewInternalError(operation, err)
	}

	status := e.HTTPStatus()
	body := errorBody{
		Error:      e.Message,
		Fields:     e.Fields,
		Reason:     e.Reason,
		StatusCode: e.StatusCode,
	}
	if e.Kind == KindInternal {
		logging.Error(logger, operation, e)
		body.Error = "internal server error"
	}
	writeJSONStatus(w, status, body)
}

// addServerTiming appends timing entries, e.g. {"db", 12*time.Millisecond}.
func addServerTiming(w http.ResponseWriter, entries ...timing) {
	if len(entries) == 0 {
		return
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s;dur=%.1f", e.name, float64(e.took.Microseconds())/1000)
	}
	w.Header().Add("Server-Timing", strings.Join(parts, ", "))
}

type timing struct {
	name string
	took time.Duration
}
