package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// requestIDPattern is the safety gate for client-supplied request ids;
// anything else is discarded and replaced with a fresh UUIDv4.
var requestIDPattern = regexp.MustCompile(`^[0-9a-fA-F-]{1,64}$`)

// requestID pulls the request id out of a request context.
func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// withRequestID accepts a safe client-supplied request id or generates a
// UUIDv4, stores it on the context, and reflects it in the response header.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(s.cfg.RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// exposedHeaders are the response headers CORS clients may read.
const exposedHeaders = "X-Request-ID, X-UX-State, X-Cooldown-Seconds"

// withCORS handles preflight and decorates responses for allowed origins.
// Credentials are allowed, so the origin is always echoed back exactly —
// never "*".
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+s.cfg.RequestIDHeader)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.CORSOrigins) == 0 {
		// Local/staging default: reflect any origin when none configured.
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// flushingWriter forces a flush on first write so the response goes out
// chunked and Content-Length is never set.
type flushingWriter struct {
	http.ResponseWriter
	wroteAny bool
}

func (fw *flushingWriter) Write(p []byte) (int, error) {
	n, err := fw.ResponseWriter.Write(p)
	if !fw.wroteAny {
		fw.wroteAny = true
		if f, ok := fw.ResponseWriter.(http.Flusher); ok {
			f.Flush()
		}
	}
	return n, err
}

// withoutContentLength strips Content-Length from every response by flushing
// the first write before the handler returns.
func withoutContentLength(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Content-Length")
		next.ServeHTTP(&flushingWriter{ResponseWriter: w}, r)
	})
}
