package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/wavetap/wavetap/internal/observe"
)

// maxSearchLimit caps the limit query parameter regardless of configuration.
const maxSearchLimit = 25

// versionResponse is the GET / body.
type versionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// infoResponse is the GET /info body.
type infoResponse struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration,omitempty"`
	Uploader   string  `json:"uploader,omitempty"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	WebpageURL string  `json:"webpage_url,omitempty"`
}

// searchResponse is the GET /search body.
type searchResponse struct {
	Results []searchEntry `json:"results"`
}

type searchEntry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{Name: "wavetap", Version: s.version})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter", "")
		return
	}

	src, err := s.coord.Resolve(r.Context(), url)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, infoResponse{
		Title:      src.Title,
		Duration:   src.Duration.Seconds(),
		Uploader:   src.Uploader,
		Thumbnail:  src.Thumbnail,
		WebpageURL: src.WebpageURL,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter", "")
		return
	}

	limit := s.cfg.Resolver.SearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = n
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := s.resolver.Search(r.Context(), query, limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	entries := make([]searchEntry, 0, len(results))
	for _, res := range results {
		entries = append(entries, searchEntry{
			ID:        res.ID,
			Title:     res.Title,
			Uploader:  res.Uploader,
			Duration:  res.Duration.Seconds(),
			Thumbnail: res.Thumbnail,
		})
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: entries})
}

// handleStream relays transcoded MP3 to the client as it is produced. The
// first chunk is read before any header is written so that resolution and
// transcoder startup failures still map to proper statuses; after that the
// response is committed and a mid-stream failure can only close the
// connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter", "")
		return
	}

	sess := s.coord.Start(url)
	stream, err := sess.AttachAudio(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	defer stream.Close()

	buf := make([]byte, s.cfg.Transcoder.ChunkSize)
	var n int
	for n == 0 {
		n, err = stream.Read(buf)
		if err != nil {
			if n == 0 {
				if errors.Is(err, io.EOF) {
					writeError(w, http.StatusBadGateway, "transcoder produced no output", "")
					return
				}
				writeMappedError(w, err)
				return
			}
			break
		}
	}

	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Disposition", "inline")
	h.Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	byteAttrs := metric.WithAttributes(observe.Attr("endpoint", "/stream"))
	start := time.Now()
	var sent int64

	for {
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client gone; closing the stream kills the transcoder.
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			sent += int64(n)
			s.metrics.StreamedBytes.Add(r.Context(), int64(n), byteAttrs)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("audio stream aborted",
					"url", url, "sent_bytes", sent, "err", err)
			} else {
				s.log.Debug("audio stream complete",
					"url", url, "sent_bytes", sent,
					"duration", time.Since(start))
			}
			return
		}
		n, err = stream.Read(buf)
	}
}
