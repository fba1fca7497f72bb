// Package websocket bridges ports to WebSocket clients.
//
// Every connected client receives messages from all ports. Frames sent by a
// client are injected into the port named by the message, or by the port
// query parameter of the connection URL, e.g. /ws?port=uart1.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/uartlink/pkg/bridge"
	"github.com/robotalks/uartlink/pkg/uart"
)

// Hub implements bridge.Sink for all connected clients.
type Hub struct {
	Codec    bridge.Codec
	Injector bridge.Injector

	conns map[*websocket.Conn]struct{}
	lock  sync.Mutex
}

// NewHub creates a Hub.
func NewHub(codec bridge.Codec, injector bridge.Injector) *Hub {
	return &Hub{
		Codec:    codec,
		Injector: injector,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the WebSocket handler.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.conns)
}

// Publish implements bridge.Sink. Clients failing to receive are dropped.
func (h *Hub) Publish(msg bridge.Message) error {
	payload, err := h.Codec.Encode(msg)
	if err != nil {
		return err
	}
	h.lock.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.lock.Unlock()
	for _, conn := range conns {
		if err := websocket.Message.Send(conn, payload); err != nil {
			glog.Warningf("WS %s: %v", conn.Request().RemoteAddr, err)
			h.remove(conn)
			conn.Close()
		}
	}
	return nil
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.lock.Lock()
	delete(h.conns, conn)
	h.lock.Unlock()
}

func (h *Hub) serve(conn *websocket.Conn) {
	var defaultPort uart.PortID
	if val := conn.Request().URL.Query().Get("port"); val != "" {
		port, err := uart.ParsePortID(val)
		if err != nil {
			glog.Warningf("WS %s: %v", conn.Request().RemoteAddr, err)
			return
		}
		defaultPort = port
	}
	h.lock.Lock()
	h.conns[conn] = struct{}{}
	h.lock.Unlock()
	defer h.remove(conn)
	glog.V(2).Infof("WS %s connected", conn.Request().RemoteAddr)

	for {
		var payload []byte
		if err := websocket.Message.Receive(conn, &payload); err != nil {
			glog.V(2).Infof("WS %s disconnected: %v", conn.Request().RemoteAddr, err)
			return
		}
		msg, err := h.Codec.Decode(payload)
		if err != nil {
			glog.Warningf("WS %s: decode: %v", conn.Request().RemoteAddr, err)
			continue
		}
		if msg.Port == 0 {
			msg.Port = defaultPort
		}
		if msg.Port == 0 {
			glog.Warningf("WS %s: message without port", conn.Request().RemoteAddr)
			continue
		}
		if err := h.Injector.Inject(msg.Port, msg.Text); err != nil {
			glog.Errorf("WS %s: %v", conn.Request().RemoteAddr, err)
		}
	}
}

// Server serves a Hub over HTTP.
type Server struct {
	Addr string
	Path string
	Hub  *Hub
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "ws-bridge"
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	path := s.Path
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()
	mux.Handle(path, s.Hub.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("WS bridge listening on %s%s", s.Addr, path)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	return ctx.Err()
}
