package ws

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callscreen/callscreen/internal/metrics"
	"github.com/callscreen/callscreen/internal/relay"
)

const writeWait = 5 * time.Second

type wsOpts struct {
	readBuf, writeBuf int
	maxMsg            int64
	heartbeat         time.Duration
	rl                interface{ AllowWS(*http.Request) bool } // nil => no limit
}
type Option func(*wsOpts)

func WithRateLimiter(rl interface{ AllowWS(*http.Request) bool }) Option {
	return func(o *wsOpts) { o.rl = rl }
}

func WithBuffers(read, write int) Option {
	return func(o *wsOpts) { o.readBuf, o.writeBuf = read, write }
}
func WithLimits(max int64, heartbeat time.Duration) Option {
	return func(o *wsOpts) { o.maxMsg, o.heartbeat = max, heartbeat }
}

// conn serializes writes over one websocket and bounds each write so a dead
// peer cannot stall a sender.
type conn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *conn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteJSON(v)
}

func (w *conn) Close() error { return w.c.Close() }

func (w *conn) writeControl(mt int, data []byte, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(mt, data, deadline)
}

// originAllowed checks if the Origin header is in the allowlist.
// - Empty Origin (non-browser clients) is allowed.
// - Items in allowedOrigins can be full origins (https://example.com) or hostnames (example.com).
func originAllowed(allowedOrigins []string, origin string) bool {
	if origin == "" {
		return true // non-browser clients typically omit Origin
	}
	if len(allowedOrigins) == 0 {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, a := range allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.EqualFold(a, origin) {
			return true
		}
		if strings.EqualFold(a, host) {
			return true
		}
	}
	return false
}

// NewHandler upgrades sockets and pumps their frames through the signaling
// router. Role and room assignment happen in-band via the join message, so
// the URL carries no parameters.
func NewHandler(router *relay.Router, allowedOrigins []string, lg *slog.Logger, dev bool, options ...Option) http.Handler {
	if lg == nil {
		lg = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg := wsOpts{readBuf: 64 << 10, writeBuf: 64 << 10, maxMsg: 1 << 20, heartbeat: 60 * time.Second}
	for _, opt := range options {
		opt(&cfg)
	}
	pingPeriod := cfg.heartbeat * 9 / 10

	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if dev {
				return true
			}
			return originAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
		ReadBufferSize:  cfg.readBuf,
		WriteBufferSize: cfg.writeBuf,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !dev && !originAllowed(allowedOrigins, r.Header.Get("Origin")) {
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}
		if cfg.rl != nil && !cfg.rl.AllowWS(r) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		raw, err := up.Upgrade(w, r, nil)
		if err != nil {
			lg.Warn("ws upgrade failed", "err", err)
			return
		}
		c := &conn{c: raw}
		defer c.Close()
		metrics.WSConnections.Inc()

		raw.SetReadLimit(cfg.maxMsg)
		_ = raw.SetReadDeadline(time.Now().Add(cfg.heartbeat))
		raw.SetPongHandler(func(data string) error {
			if err := raw.SetReadDeadline(time.Now().Add(cfg.heartbeat)); err != nil {
				return err
			}
			if ts, err := strconv.ParseInt(data, 10, 64); err == nil {
				metrics.WSRTTSeconds.Observe(time.Since(time.Unix(0, ts)).Seconds())
			}
			return nil
		})

		done := make(chan struct{})
		defer close(done)
		go func() {
			t := time.NewTicker(pingPeriod)
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					payload := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
					if err := c.writeControl(websocket.PingMessage, payload, time.Now().Add(writeWait)); err != nil {
						_ = c.Close()
						return
					}
				}
			}
		}()

		var handle *relay.Handle
		defer func() {
			// Single cleanup path, no matter how the socket went away.
			router.Disconnect(handle)
		}()

		for {
			mt, msg, err := raw.ReadMessage()
			if err != nil {
				// quiet on normal closes
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					lg.Warn("ws read error", "err", err)
				}
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			metrics.WSFrameSize.WithLabelValues("in").Observe(float64(len(msg)))
			metrics.SignalBytes.WithLabelValues("in").Add(float64(len(msg)))

			handle, err = router.HandleFrame(r.Context(), handle, c, msg)
			if err != nil {
				// Admission/protocol failure; the error frame is already out.
				lg.Warn("ws session rejected", "err", err)
				return
			}
		}
	})
}
