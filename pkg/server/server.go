// Package server implements the ruchat TCP chat server: per-connection
// sessions, the session registry, room directory and broadcast routing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vovakirdan/ruchat-server/pkg/datastore"
	"github.com/vovakirdan/ruchat-server/pkg/model"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of DB and will Close() it on shutdown.
type Dependencies struct {
	DB datastore.Database
}

// Server is the chat server.
type Server struct {
	cfg      Config
	db       datastore.Database
	sessions *SessionRegistry
	rooms    *RoomDirectory
	router   *BroadcastRouter
	hub      *Hub
	metrics  *Metrics
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	conns  sync.WaitGroup
	liveMu sync.Mutex
	live   map[*Session]struct{}
}

// New creates a new Server instance. A nil DB selects an in-memory store.
func New(cfg Config, deps Dependencies) *Server {
	cfg = cfg.sanitize()
	db := deps.DB
	if db == nil {
		db = datastore.NewMemory()
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	sessions := NewSessionRegistry()
	rooms := NewRoomDirectory()
	return &Server{
		cfg:      cfg,
		db:       db,
		sessions: sessions,
		rooms:    rooms,
		router:   NewBroadcastRouter(sessions, rooms, metrics),
		hub:      NewHub(sessions, rooms, metrics),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		live:     make(map[*Session]struct{}),
	}
}

// Rooms returns the room directory.
func (s *Server) Rooms() *RoomDirectory {
	return s.rooms
}

// Sessions returns the session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// prepare resets presence and loads persisted and preset rooms.
func (s *Server) prepare() error {
	if err := s.db.ResetPresence(s.ctx); err != nil {
		return fmt.Errorf("server: reset presence: %w", err)
	}

	stored, err := s.db.ListRooms(s.ctx)
	if err != nil {
		return fmt.Errorf("server: list rooms: %w", err)
	}
	for _, r := range stored {
		s.addRoom(r.Name)
	}

	if s.cfg.RoomsFile != "" {
		names, err := LoadRoomsFromYAML(s.ctx, s.cfg.RoomsFile, s.db)
		if err != nil {
			slog.Error("failed to load rooms config", "err", err)
		}
		for _, name := range names {
			s.addRoom(name)
		}
	}
	return nil
}

func (s *Server) addRoom(name string) {
	if err := s.rooms.CreateRoom(name); err != nil && !isExists(err) {
		slog.Warn("skipping stored room", "room", name, "err", err)
	}
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	if err := s.prepare(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	slog.Info("chat server listening", "addr", ln.Addr().String(), "rooms", len(s.rooms.ListRooms()))

	go s.acceptLoop(ln)

	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(sess *Session) {
	s.liveMu.Lock()
	s.live[sess] = struct{}{}
	s.liveMu.Unlock()
}

func (s *Server) untrack(sess *Session) {
	s.liveMu.Lock()
	delete(s.live, sess)
	s.liveMu.Unlock()
}

// Shutdown stops accepting, closes every session, waits for their
// goroutines (bounded by timeout) and closes the database.
func (s *Server) Shutdown(timeout time.Duration) {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.liveMu.Lock()
	for sess := range s.live {
		_ = sess.SendLine(msgServerShutdown)
		sess.Close()
	}
	s.liveMu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
		slog.Warn("shutdown timed out waiting for sessions")
	}

	if err := s.db.Close(); err != nil {
		slog.Error("close database", "err", err)
	}
}

func isExists(err error) bool {
	return errors.Is(err, model.ErrRoomExists) || errors.Is(err, model.ErrUserExists)
}
