package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	gws "github.com/gorilla/websocket"
	"github.com/koding/websocketproxy"
	"github.com/progrium/vidjockey/jockey"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

const meetURL = "https://meet.livekit.io/custom?liveKitUrl=%s&token=%s"

// Controller is the command surface the server drives.
type Controller interface {
	Exec(line string) error
	Snapshot() jockey.Snapshot
}

// Inviter issues room join tokens for viewers.
type Inviter interface {
	Token(identity string) (string, error)
}

type Server struct {
	Controller Controller
	Hub        *Hub

	// RTC is the LiveKit server proxied under /rtc. Nil disables the proxy.
	RTC *url.URL
	// IngressAddr is the RTMP host:port that /ingress tunnels to.
	IngressAddr string
	Invites     Inviter
	// PublicURL is the base URL viewers reach this server on.
	PublicURL string

	log *zap.Logger
}

func New(ctrl Controller, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Controller: ctrl, Hub: hub, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/control", websocket.Handler(s.HandleControl))
	mux.HandleFunc("/state", s.HandleState)
	if s.RTC != nil {
		rtc := s.ProxyRTC()
		mux.Handle("/rtc", rtc)
		mux.Handle("/rtc/", rtc)
	}
	if s.IngressAddr != "" {
		mux.Handle("/ingress", websocket.Handler(s.HandleIngress))
	}
	if s.Invites != nil {
		mux.HandleFunc("/invite", s.HandleInvite)
	}
	return mux
}

// HandleControl registers the connection with the hub, sends the current
// state, then executes each text frame as a command line.
func (s *Server) HandleControl(conn *websocket.Conn) {
	c := s.Hub.newClient(conn)
	if !s.Hub.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	c.queue(EventState, s.Controller.Snapshot())

	for {
		var line string
		if err := websocket.Message.Receive(conn, &line); err != nil {
			if err != io.EOF {
				s.log.Debug("control read", zap.Stringer("client", c.ID), zap.Error(err))
			}
			break
		}
		c.queue(EventResult, s.exec(line))
	}
	s.Hub.drop(c)
}

func (s *Server) exec(line string) resultData {
	line = strings.TrimSpace(line)
	res := resultData{Command: line}
	if err := s.Controller.Exec(line); err != nil {
		res.Error = err.Error()
		s.log.Info("command failed", zap.String("line", line), zap.Error(err))
	}
	return res
}

func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Controller.Snapshot()); err != nil {
		s.log.Warn("encode state", zap.Error(err))
	}
}

// ProxyRTC forwards LiveKit signalling websockets to RTC. Browsers join from
// the meet page, so any origin is accepted.
func (s *Server) ProxyRTC() http.Handler {
	proxy := websocketproxy.NewProxy(s.RTC)
	proxy.Upgrader = &gws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return proxy
}

// HandleIngress tunnels a binary websocket stream to the RTMP ingress, for
// hosts that cannot reach it directly.
func (s *Server) HandleIngress(conn *websocket.Conn) {
	conn.PayloadType = websocket.BinaryFrame
	c, err := net.Dial("tcp", s.IngressAddr)
	if err != nil {
		s.log.Error("dial ingress", zap.String("addr", s.IngressAddr), zap.Error(err))
		return
	}
	defer c.Close()
	s.log.Info("ingress tunnel", zap.String("remote", conn.Request().RemoteAddr))
	go io.Copy(conn, c)
	if _, err := io.Copy(c, conn); err != nil {
		s.log.Warn("ingress copy", zap.Error(err))
	}
}

// HandleInvite redirects a viewer to a LiveKit meet page joined to the room.
func (s *Server) HandleInvite(w http.ResponseWriter, r *http.Request) {
	token, err := s.Invites.Token("viewer-" + xid.New().String())
	if err != nil {
		s.log.Error("invite token", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lkURL := s.PublicURL
	if lkURL == "" {
		lkURL = "http://" + r.Host
	}
	lkURL = strings.Replace(lkURL, "https:", "wss:", 1)
	lkURL = strings.Replace(lkURL, "http:", "ws:", 1)
	http.Redirect(w, r, fmt.Sprintf(meetURL, url.QueryEscape(lkURL), token), http.StatusTemporaryRedirect)
}
