package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/wavetap/wavetap/internal/observe"
	"github.com/wavetap/wavetap/pkg/waveform"
)

// wsMessage is the wire format of the waveform channel. Type is one of
// "connected", "amplitude", "complete" or "error"; the other fields are
// populated per type.
type wsMessage struct {
	Type     string  `json:"type"`
	Message  string  `json:"message,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Sequence uint64  `json:"sequence"`
}

// handleWaveform upgrades to WebSocket and pushes the amplitude envelope of
// the requested source until it ends, fails, or the client disconnects.
func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter", "")
		return
	}

	opts := &websocket.AcceptOptions{}
	if s.allowAllOrigins() {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = s.cfg.Server.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	// CloseRead pumps incoming frames so client closes cancel the context;
	// the channel is send-only from our side.
	ctx := conn.CloseRead(r.Context())

	if err := writeWS(ctx, conn, wsMessage{Type: "connected", Message: "waveform stream connected"}); err != nil {
		return
	}

	sess := s.coord.Start(url)
	stream, err := sess.AttachAmplitude(r.Context())
	if err != nil {
		_ = writeWS(ctx, conn, wsMessage{Type: "error", Message: err.Error()})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	defer stream.Close()

	ext := waveform.New(
		waveform.WithWindowFrames(s.cfg.Waveform.WindowFrames),
		waveform.WithChannels(s.cfg.Waveform.Channels),
		waveform.WithGain(s.cfg.Waveform.Gain),
		waveform.WithBufferSize(s.cfg.Waveform.SendBuffer),
	)
	samples := ext.Start(ctx, stream)

	sampleAttrs := metric.WithAttributes(observe.Attr("endpoint", "/ws/waveform"))
	for sample := range samples.C {
		msg := wsMessage{Type: "amplitude", Value: sample.Value, Sequence: sample.Sequence}
		if err := writeWS(ctx, conn, msg); err != nil {
			// Client gone; ctx cancellation stops the extractor and the
			// deferred Close kills the transcoder.
			return
		}
		s.metrics.AmplitudeSamples.Add(ctx, 1, sampleAttrs)
	}

	if dropped := samples.Dropped(); dropped > 0 {
		s.metrics.AmplitudeDropped.Add(context.Background(), int64(dropped), sampleAttrs)
		s.log.Debug("amplitude samples dropped", "url", url, "dropped", dropped)
	}

	switch err := samples.Err(); {
	case err == nil:
		_ = writeWS(ctx, conn, wsMessage{Type: "complete"})
	case errors.Is(err, context.Canceled):
		// Client disconnect mid-stream; nothing left to tell it.
		return
	default:
		_ = writeWS(ctx, conn, wsMessage{Type: "error", Message: err.Error()})
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func writeWS(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
