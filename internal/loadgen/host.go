package loadgen

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/torosent/pulse/internal/recorder"
)

// FailRoute always answers 503.
const FailRoute = "/api/fail"

// DemoRoutes are the routes HTTPRequester cycles through.
var DemoRoutes = []string{"/", "/about", "/api/users", "/api/orders", "/api/slow"}

// NewDemoHost returns a small instrumented web app. Every request passes
// through rec's middleware; handlers also record events of their own.
func NewDemoHost(rec *recorder.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "pulse demo home")
	})
	mux.HandleFunc("GET /about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "pulse demo about")
	})
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		users := []string{"ada", "grace", "linus"}
		if rr := recorder.FromContext(r.Context()); rr != nil {
			rr.ObserveEvent("users.cache_hit", nil, map[string]any{"size": len(users)})
		}
		writeJSON(w, map[string]any{"users": users})
	})
	mux.HandleFunc("GET /api/orders", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		orders := []map[string]any{{"id": 1, "total": 19.99}, {"id": 2, "total": 5.25}}
		if rr := recorder.FromContext(r.Context()); rr != nil {
			d := time.Since(start)
			rr.ObserveEvent("orders.query", &d, map[string]any{"rows": len(orders)})
		}
		writeJSON(w, map[string]any{"orders": orders})
	})
	mux.HandleFunc("GET /api/slow", func(w http.ResponseWriter, r *http.Request) {
		delay := time.Duration(5+rand.Intn(20)) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		writeJSON(w, map[string]any{"delayMs": delay.Milliseconds()})
	})
	mux.HandleFunc("GET "+FailRoute, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	})

	return rec.Middleware(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
