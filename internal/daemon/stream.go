package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/elsanchez/smart-publish/internal/domain"
)

const (
	sseHeartbeat = 15 * time.Second
	wsWriteLimit = 5 * time.Second
)

// Login abre un login QR y lo transmite por SSE: un evento challenge y
// después exactamente uno de success, failed o timeout
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	platform, label := q.Get("platform"), q.Get("account")
	if !requireField(w, platform, "platform") || !requireField(w, label, "account") {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sess, sub, err := h.Logins.Start(platform, label)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer sub.Close()

	logger := h.Logger.With("login", sess.ID)
	logger.Info("login stream opened", "platform", platform, "label", label)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			// El login sigue hasta su fin aunque el cliente se vaya
			logger.Info("login stream closed by client")
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case ev, ok := <-sub.C():
			if !ok {
				logger.Warn("login stream dropped")
				return
			}
			if err := writeSSE(w, ev.Type, ev.Data); err != nil {
				logger.Warn("write login event", "err", err)
				return
			}
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// Events transmite eventos de estado por WebSocket. Sin ?topic= recibe
// todos; admite varios topic.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]

	// Suscrito antes del handshake: el cliente no pierde eventos al conectar
	sub := h.Hub.Subscribe(topics...)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Sólo escribimos; CloseRead detecta el cierre del cliente
	ctx := conn.CloseRead(r.Context())

	h.Logger.Debug("events subscriber connected", "remote", r.RemoteAddr, "topics", topics)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case ev, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.Logger.Debug("events subscriber gone", "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteLimit)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
