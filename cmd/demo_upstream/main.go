// Command demo_upstream is a local stand-in for the config and admin APIs.
// It answers every request with the {status, httpStatus, message, data}
// envelope the dashboard expects, echoing what it received.
package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"fleetedge/logger"

	"github.com/spf13/cobra"
)

type envelope struct {
	Status     string `json:"status"`
	HTTPStatus int    `json:"httpStatus"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

type echo struct {
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Query         string    `json:"query,omitempty"`
	Authorization bool      `json:"authorization"`
	Body          string    `json:"body,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

var (
	addr string
	name string
)

var rootCmd = &cobra.Command{
	Use:   "demo_upstream",
	Short: "Run a stand-in upstream API returning envelope JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger.Info("Demo upstream starting", "addr", addr, "name", name)
		err := http.ListenAndServe(addr, newMux(name))
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8081", "listen address")
	rootCmd.Flags().StringVar(&name, "name", "config", "name reported in the envelope message")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Demo upstream failed", "err", err)
		os.Exit(1)
	}
}

func newMux(name string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		logger.Info("Matched", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		writeEnvelope(w, http.StatusOK, name, echo{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization") != "",
			Body:          string(body),
			ReceivedAt:    time.Now().UTC(),
		})
	})

	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusInternalServerError, "simulated failure", nil)
	})

	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
			return
		}
		writeEnvelope(w, http.StatusOK, "slow response", nil)
	})

	return mux
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	status := "OK"
	if code >= http.StatusBadRequest {
		status = "ERROR"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: status, HTTPStatus: code, Message: msg, Data: data})
}
