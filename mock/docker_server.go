package mock

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/aceeric/pullgather/impl/fetch"
)

// DockerServer simply calls DockerServerWithCallback with no callback function
func DockerServer(scripts map[string][]Script) (*httptest.Server, string) {
	return DockerServerWithCallback(scripts, nil)
}

// DockerServerWithCallback runs a fake Docker Engine that implements just enough of
// the API for an image pull: GET /_ping and POST /images/create. Scripts are keyed by
// the familiar image name plus tag the way the docker client sends them, e.g.
// "alpine:latest" for "docker.io/library/alpine". Each pull of an image consumes
// the next script. The last script repeats. It returns the server and its address
// without the scheme. If a callback function is passed, it is called with every
// request.
func DockerServerWithCallback(scripts map[string][]Script, callback func(*http.Request)) (*httptest.Server, string) {
	var mu sync.Mutex
	pulls := make(map[string]int)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callback != nil {
			callback(r)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/_ping"):
			w.Header().Set("Api-Version", "1.43")
			w.Write([]byte("OK"))
			return
		case strings.HasSuffix(r.URL.Path, "/images/create") && r.Method == http.MethodPost:
		default:
			http.NotFound(w, r)
			return
		}
		key := r.URL.Query().Get("fromImage")
		if tag := r.URL.Query().Get("tag"); tag != "" {
			key += ":" + tag
		}
		mu.Lock()
		n := pulls[key]
		pulls[key]++
		mu.Unlock()

		imageScripts, ok := scripts[key]
		if !ok || len(imageScripts) == 0 {
			writeJSONError(w, http.StatusNotFound, "pull access denied for "+key+", repository does not exist")
			return
		}
		script := imageScripts[min(n, len(imageScripts)-1)]
		if script.OpenErr != nil {
			status := http.StatusInternalServerError
			var svcErr *fetch.ServiceError
			if errors.As(script.OpenErr, &svcErr) && svcErr.Status != 0 {
				status = svcErr.Status
			}
			writeJSONError(w, status, script.OpenErr.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		if script.Block != nil {
			select {
			case <-script.Block:
			case <-r.Context().Done():
				return
			}
		}
		enc := json.NewEncoder(w)
		for _, ev := range script.Events {
			if script.Delay > 0 {
				select {
				case <-time.After(script.Delay):
				case <-r.Context().Done():
					return
				}
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		for _, line := range script.Raw {
			w.Write([]byte(line + "\n"))
		}
	}))
	return server, strings.TrimPrefix(server.URL, "http://")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// ErrorEvent returns an in-stream error record the way the daemon sends one when
// a pull fails after it started.
func ErrorEvent(msg string) string {
	b, _ := json.Marshal(map[string]any{
		"errorDetail": map[string]string{"message": msg},
		"error":       msg,
	})
	return string(b)
}
