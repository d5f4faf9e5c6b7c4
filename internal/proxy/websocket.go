package proxy

import (
	"crypto/tls"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSProxy bridges a client WebSocket to the upstream's WebSocket
// endpoint, pumping frames in both directions until either side
// closes.
type WSProxy struct {
	upstream  *url.URL
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer
	basicUser string
	basicPass string
	log       *slog.Logger
}

func NewWSProxy(opts Options, log *slog.Logger) (*WSProxy, error) {
	upstream, err := url.Parse(opts.UpstreamURL)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if opts.InsecureTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &WSProxy{
		upstream: upstream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin was already vetted by the admission pipeline.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer:    dialer,
		basicUser: opts.BasicUser,
		basicPass: opts.BasicPassword,
		log:       log,
	}, nil
}

// Bridge upgrades the client connection, dials the same path on the
// upstream and relays frames both ways. It blocks until one side
// closes.
func (p *WSProxy) Bridge(w http.ResponseWriter, r *http.Request, path string,
	userID, tokenID uuid.UUID) {

	target := *p.upstream
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	case "http":
		target.Scheme = "ws"
	}
	target.Path = singleJoin(p.upstream.Path, path)
	target.RawQuery = r.URL.RawQuery

	header := http.Header{}
	header.Set("X-Forwarded-For", clientIP(r))
	header.Set("X-User-Id", userID.String())
	header.Set("X-Token-Id", tokenID.String())
	if p.basicUser != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(p.basicUser + ":" + p.basicPass))
		header.Set("Authorization", "Basic "+credentials)
	}

	upstreamConn, resp, err := p.dialer.Dial(target.String(), header)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		p.log.Error("websocket upstream dial failed", "path", path, "status", status, "error", err)
		http.Error(w, "Bad Gateway: unable to reach upstream", http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Error("websocket upgrade failed", "path", path, "error", err)
		return
	}
	defer clientConn.Close()

	p.log.Info("websocket bridge open", "path", path, "user_id", userID, "token_id", tokenID)

	errc := make(chan error, 2)
	go pump(clientConn, upstreamConn, errc)
	go pump(upstreamConn, clientConn, errc)
	<-errc
}

func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeErr.Code, closeErr.Text),
					time.Now().Add(time.Second))
			}
			errc <- err
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errc <- err
			return
		}
	}
}

// Reject completes the client handshake and immediately closes the
// connection with a policy-violation close frame. Browsers cannot read
// an HTTP error body for a failed WebSocket, so admission failures are
// reported through the close code instead.
func (p *WSProxy) Reject(w http.ResponseWriter, r *http.Request, reason string) {
	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()
	clientConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

// IsWebSocketUpgrade reports whether the request asks for a WebSocket
// handshake.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
