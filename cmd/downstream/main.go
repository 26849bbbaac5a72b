package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Demo origin serving the example routes the gateway proxies to.
func main() {
	addr := os.Getenv("DOWNSTREAM_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/data", handleData)
	mux.HandleFunc("/api/search", handleSearch)
	mux.HandleFunc("/api/upload", handleUpload)
	mux.HandleFunc("/health", handleHealth)

	log.Info().Str("addr", addr).Msg("downstream listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func handleData(w http.ResponseWriter, r *http.Request) {
	time.Sleep(20 * time.Millisecond)
	writeJSON(w, map[string]interface{}{
		"message":   "This is rate-limited data",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func handleSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"query":   r.URL.Query().Get("q"),
		"results": []string{"result1", "result2", "result3"},
	})
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	time.Sleep(100 * time.Millisecond)
	writeJSON(w, map[string]interface{}{
		"message": "Upload successful",
		"size":    r.ContentLength,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
