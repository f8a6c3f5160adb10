// Package notify delivers fired reminders to local listeners over UDP.
// Listeners register with a datagram and receive one JSON datagram per
// reminder.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"chaptertrack/internal/reminders"
)

const (
	RegisterMessageType = "register"
	ReminderMessageType = "reminder"
)

type RegisterMessage struct {
	Type       string `json:"type"`
	ListenerID string `json:"listener_id"`
}

type ReminderMessage struct {
	Type    string         `json:"type"`
	JobID   string         `json:"job_id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`
	FiredAt time.Time      `json:"fired_at"`
}

type Listener struct {
	ID   string
	Addr *net.UDPAddr
}

type Registry struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]Listener)}
}

func (r *Registry) Register(id string, addr *net.UDPAddr) {
	if id == "" || addr == nil {
		return
	}
	r.mu.Lock()
	r.listeners[id] = Listener{ID: id, Addr: addr}
	r.mu.Unlock()
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}

type Server struct {
	addr     string
	registry *Registry
	logger   *log.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewServer(addr string, registry *Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Server{addr: addr, registry: registry, logger: logger}
}

// Listen binds the socket; Serve then reads registrations.
func (s *Server) Listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Printf("[notify] listening on %s", conn.LocalAddr())
	return nil
}

func (s *Server) Serve() error {
	conn := s.socket()
	if conn == nil {
		return errors.New("notify server not listening")
	}

	buffer := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		msg, err := parseRegisterMessage(buffer[:n])
		if err != nil {
			s.logger.Printf("[notify] invalid message from %s: %v", addr, err)
			continue
		}
		s.registry.Register(msg.ListenerID, addr)
		s.logger.Printf("[notify] registered listener %s (%s)", msg.ListenerID, addr)
	}
}

func (s *Server) ListenAddr() net.Addr {
	if conn := s.socket(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}

func (s *Server) Close() error {
	if conn := s.socket(); conn != nil {
		return conn.Close()
	}
	return nil
}

// Broadcast sends msg to every listener and returns how many got it.
func (s *Server) Broadcast(msg ReminderMessage) (int, error) {
	if s.socket() == nil {
		return 0, errors.New("notify server not running")
	}
	msg.Type = ReminderMessageType
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal reminder: %w", err)
	}

	sent := 0
	for _, l := range s.registry.Snapshot() {
		if s.sendWithRetry(l, payload) {
			sent++
		}
	}
	return sent, nil
}

// Notify delivers a fired reminder job.
func (s *Server) Notify(_ context.Context, job reminders.Job) error {
	n, err := s.Broadcast(ReminderMessage{
		JobID:   job.ID,
		Title:   job.Title,
		Body:    job.Body,
		Data:    job.Data,
		FiredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		s.logger.Printf("[notify] %s: %s (no listeners)", job.Title, job.Body)
	}
	return nil
}

func (s *Server) sendWithRetry(l Listener, payload []byte) bool {
	if err := s.sendOnce(l, payload); err == nil {
		return true
	}
	if err := s.sendOnce(l, payload); err != nil {
		s.logger.Printf("[notify] drop listener %s at %s: %v", l.ID, l.Addr, err)
		s.registry.Remove(l.ID)
		return false
	}
	return true
}

func (s *Server) sendOnce(l Listener, payload []byte) error {
	if l.Addr == nil {
		return errors.New("missing listener address")
	}
	_, err := s.socket().WriteToUDP(payload, l.Addr)
	return err
}

func (s *Server) socket() *net.UDPConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func parseRegisterMessage(data []byte) (RegisterMessage, error) {
	var msg RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type != RegisterMessageType || msg.ListenerID == "" {
		return msg, errors.New("missing required fields")
	}
	return msg, nil
}
