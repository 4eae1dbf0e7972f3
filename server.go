// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/object"
	"github.com/luxfi/metarpc/wire"
)

var (
	ErrServiceExists  = errors.New("metarpc: service already bound")
	ErrNoSuchService  = errors.New("metarpc: no such service")
	ErrServerClosed   = errors.New("metarpc: server closed")
	ErrInvalidService = errors.New("metarpc: invalid service name")
)

// Server serves bound objects to every accepted connection.
type Server struct {
	listener Listener
	host     *objectHost
	caps     wire.CapabilityMap
	log      *logrus.Entry

	mu       sync.Mutex
	names    map[string]uint32
	next     uint32
	sessions map[*session]struct{}
	closed   bool
}

func newServer(l Listener, o *serverOptions) (*Server, error) {
	caps := o.capabilities
	if caps == nil {
		caps = wire.LocalCapabilities()
	}
	s := &Server{
		listener: l,
		host:     newObjectHost(nil),
		caps:     caps,
		log:      log.Category("metarpc.transport").WithField("addr", l.Addr()),
		names:    make(map[string]uint32),
		sessions: make(map[*session]struct{}),
	}
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	s.host.bind(objectKey{directoryService, mainObject}, dir)
	return s, nil
}

// directory builds the object resolving service names to ids.
func (s *Server) directory() (*object.DynamicObject, error) {
	b := object.NewDynamicObjectBuilder().SetDescription("service directory")
	if _, err := b.AdvertiseMethod("service", s.ServiceID); err != nil {
		return nil, err
	}
	if _, err := b.AdvertiseMethod("services", s.Services); err != nil {
		return nil, err
	}
	return b.Object()
}

// Bind exposes obj as the main object of service name and returns the
// service id.
func (s *Server) Bind(name string, obj object.AnyObject) (uint32, error) {
	if name == "" {
		return 0, ErrInvalidService
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrServerClosed
	}
	if _, ok := s.names[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrServiceExists, name)
	}
	s.next++
	id := s.next
	s.names[name] = id
	s.host.bind(objectKey{id, mainObject}, obj)
	s.log.WithFields(logrus.Fields{"service": name, "id": id}).Info("service bound")
	return id, nil
}

// Unbind removes service name. Connected peers get ErrNoSuchObject on
// their next call.
func (s *Server) Unbind(name string) error {
	s.mu.Lock()
	id, ok := s.names[name]
	delete(s.names, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchService, name)
	}
	s.host.unbind(id)
	return nil
}

// ServiceID returns the id of service name.
func (s *Server) ServiceID(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNoSuchService, name)
	}
	return id, nil
}

// Services returns the sorted names of the bound services.
func (s *Server) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.names))
}

// Object returns the main object of service name.
func (s *Server) Object(name string) (object.AnyObject, error) {
	id, err := s.ServiceID(name)
	if err != nil {
		return nil, err
	}
	obj, ok := s.host.lookup(objectKey{id, mainObject})
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchService, name)
	}
	return obj, nil
}

// Serve accepts connections until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	for {
		t, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		sess := newSession(t, s.caps, newObjectHost(s.host), "server")
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = sess.Close()
			return nil
		}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		go func() {
			sess.serve()
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting and drops every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := slices.Collect(maps.Keys(s.sessions))
	s.mu.Unlock()

	err := s.listener.Close()
	for _, sess := range sessions {
		_ = sess.Close()
	}
	return err
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.listener.Addr()
}
