package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"time"
)

// SubscribeMessage is the first line a TCP client sends.
type SubscribeMessage struct {
	Type  string `json:"type"` // "subscribe"
	Token string `json:"token"`
}

// Authenticator resolves a bearer token to a user id.
type Authenticator func(ctx context.Context, token string) (string, error)

type Server struct {
	Addr string
	Hub  *Hub
	Auth Authenticator

	mu sync.Mutex
	ln net.Listener
}

func NewServer(addr string, hub *Hub, auth Authenticator) *Server {
	return &Server{Addr: addr, Hub: hub, Auth: auth}
}

func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Printf("[tcp-sync] listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(c net.Conn) {
	sc := bufio.NewScanner(c)

	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
	if !sc.Scan() {
		_ = c.Close()
		return
	}
	var msg SubscribeMessage
	if err := json.Unmarshal(sc.Bytes(), &msg); err != nil || msg.Type != "subscribe" {
		_, _ = c.Write([]byte("{\"type\":\"error\",\"message\":\"expected subscribe\"}\n"))
		_ = c.Close()
		return
	}
	userID, err := s.Auth(context.Background(), msg.Token)
	if err != nil {
		_, _ = c.Write([]byte("{\"type\":\"error\",\"message\":\"invalid token\"}\n"))
		_ = c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	s.Hub.Welcome(c)
	s.Hub.Add(c, userID)
	log.Printf("[tcp-sync] client connected: %s user=%s", c.RemoteAddr(), userID)

	defer func() {
		s.Hub.Remove(c)
		log.Printf("[tcp-sync] client disconnected: %s", c.RemoteAddr())
	}()

	// clients only listen; drain whatever they send
	for sc.Scan() {
	}
}

// Addr of the listener once Run has started, for tests using ":0".
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting; connected clients stay until they hang up.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
