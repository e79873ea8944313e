// Command test-server runs a local practice target for stampede runs.
// It serves endpoints with controllable status codes and latency so
// checks, thresholds and abort behavior can be exercised without a
// real backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	// Immediate OK, minimal overhead
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","uptime":1}`)
	})

	// Echo the requested status code: /status/503
	http.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Path[len("/status/"):])
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status code", http.StatusBadRequest)
			return
		}
		w.WriteHeader(code)
		fmt.Fprintf(w, "status %d", code)
	})

	// Sleep for the requested duration: /delay/200ms
	http.HandleFunc("/delay/", func(w http.ResponseWriter, r *http.Request) {
		d, err := time.ParseDuration(r.URL.Path[len("/delay/"):])
		if err != nil {
			http.Error(w, "bad duration", http.StatusBadRequest)
			return
		}
		time.Sleep(d)
		fmt.Fprintf(w, "slept %s", d)
	})

	// Fail a fraction of requests: /flaky?rate=0.1
	http.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		rate, _ := strconv.ParseFloat(r.URL.Query().Get("rate"), 64)
		if rand.Float64() < rate {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
			return
		}
		fmt.Fprint(w, "ok")
	})

	server := &http.Server{
		Addr:              *addr,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Printf("test server listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
