package helpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)
}

const (
	maxLoggedRequestBody = 1000
	maxLoggedErrorBody   = 500
	maxCapturedResponse  = 8 << 10
)

// JSON body key -> log field.
var requestFields = map[string]string{
	"booking_id":        "booking_id",
	"authorization_id":  "authorization_id",
	"provider_order_id": "provider_order_id",
	"driver_id":         "driver_id",
	"payout_id":         "payout_id",
	"refund_id":         "refund_id",
	"provider":          "provider",
	"decision":          "decision",
}

var responseFields = map[string]string{
	"booking_id":       "booking_id",
	"authorization_id": "authorization_id",
	"driver_id":        "driver_id",
	"refund_id":        "refund_id",
	"state":            "hold_state",
	"payment_status":   "payment_status",
	"status":           "payout_status",
}

// captureWriter records the status and the head of the response body.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	bytesOut   int
	head       bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.statusCode == 0 {
		cw.statusCode = code
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.statusCode == 0 {
		cw.statusCode = http.StatusOK
	}
	if room := maxCapturedResponse - cw.head.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		cw.head.Write(b[:room])
	}
	n, err := cw.ResponseWriter.Write(b)
	cw.bytesOut += n
	return n, err
}

func (cw *captureWriter) status() int {
	if cw.statusCode == 0 {
		return http.StatusOK
	}
	return cw.statusCode
}

// businessFields pulls the non-empty string values of the given keys out of
// a JSON object body.
func businessFields(body []byte, fields map[string]string) map[string]string {
	out := make(map[string]string)
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return out
	}
	for key, field := range fields {
		if v, ok := data[key].(string); ok && v != "" {
			out[field] = v
		}
	}
	return out
}

// zerolog's Fields only accepts map[string]interface{}.
func logFields(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "...(truncated)"
	}
	return s
}

// Signed webhook bodies are never logged.
func logBody(path string) bool {
	return !strings.HasPrefix(path, "/webhooks/")
}

func RequestLoggerWithBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		startEvent := logger.Info().
			Str("event", "request_start").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent())
		if requestID != "" {
			startEvent = startEvent.Str("request_id", requestID)
		}
		if r.URL.RawQuery != "" {
			startEvent = startEvent.Str("query", r.URL.RawQuery)
		}

		fields := map[string]string{}
		if r.Body != nil && logBody(r.URL.Path) {
			bodyBytes, err := io.ReadAll(r.Body)
			if err == nil && len(bodyBytes) > 0 {
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				fields = businessFields(bodyBytes, requestFields)
				startEvent = startEvent.
					Fields(logFields(fields)).
					Str("request_body", truncate(string(bodyBytes), maxLoggedRequestBody))
			}
		}
		startEvent.Msg("HTTP request started")

		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		duration := time.Since(start)
		status := cw.status()

		// Route params are only known once the router has matched.
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
			for i, key := range rctx.URLParams.Keys {
				if i < len(rctx.URLParams.Values) && rctx.URLParams.Values[i] != "" {
					fields[key] = rctx.URLParams.Values[i]
				}
			}
		}
		for field, v := range businessFields(cw.head.Bytes(), responseFields) {
			if _, seen := fields[field]; !seen {
				fields[field] = v
			}
		}

		level, msg := zerolog.InfoLevel, "HTTP request completed"
		switch {
		case status >= 500:
			level, msg = zerolog.ErrorLevel, "HTTP request failed"
		case status >= 400:
			level, msg = zerolog.WarnLevel, "HTTP request client error"
		}

		doneEvent := logger.WithLevel(level).
			Str("event", "request_complete").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", status).
			Int("bytes_out", cw.bytesOut).
			Float64("duration_ms", float64(duration.Nanoseconds())/1e6).
			Str("remote_addr", r.RemoteAddr).
			Fields(logFields(fields))
		if requestID != "" {
			doneEvent = doneEvent.Str("request_id", requestID)
		}
		if route != "" {
			doneEvent = doneEvent.Str("route", route)
		}
		if status >= 400 && cw.head.Len() > 0 {
			doneEvent = doneEvent.Str("error_response", truncate(cw.head.String(), maxLoggedErrorBody))
		}
		doneEvent.Msg(msg)
	})
}
