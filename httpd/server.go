// Package httpd is a deliberately small HTTP/1.x server: one connection at a
// time, one request per connection, static files and a few generated
// documents.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/evkuzin/weatherlogger/scheduler"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollTimeout = time.Second
	DefaultConnTimeout = 10 * time.Second
)

type Server struct {
	Addr    string
	Handler *Handler
	// PollTimeout bounds each wait for a connection so cancellation is
	// noticed between polls.
	PollTimeout time.Duration
	// ConnTimeout is the whole budget of one connection, read to close.
	ConnTimeout time.Duration

	logger *logrus.Logger
	ln     net.Listener
}

func NewServer(addr string, handler *Handler, logger *logrus.Logger) *Server {
	return &Server{
		Addr:        addr,
		Handler:     handler,
		PollTimeout: DefaultPollTimeout,
		ConnTimeout: DefaultConnTimeout,
		logger:      logger,
	}
}

// Listen binds the socket. Run calls it when it has not been done yet.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	s.ln = ln
	s.logger.Infof("listening on %s", ln.Addr())
	return nil
}

// ListenAddr is the bound address, nil before Listen.
func (s *Server) ListenAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Name() string {
	return "httpd"
}

// Run accepts and serves connections one by one until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.ln.Close()
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := s.poll()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.WithField("task", s.Name()).Warnf("accept failed: %s", err)
			if err := scheduler.Sleep(ctx, s.PollTimeout); err != nil {
				return err
			}
			continue
		}
		s.serve(conn)
	}
}

// poll waits up to PollTimeout for the next connection.
func (s *Server) poll() (net.Conn, error) {
	if dl, ok := s.ln.(interface{ SetDeadline(time.Time) error }); ok && s.PollTimeout > 0 {
		if err := dl.SetDeadline(time.Now().Add(s.PollTimeout)); err != nil {
			return nil, err
		}
	}
	return s.ln.Accept()
}

func (s *Server) serve(conn net.Conn) {
	log := s.logger.WithFields(logrus.Fields{
		"task":   s.Name(),
		"conn":   uuid.NewString(),
		"remote": conn.RemoteAddr().String(),
	})
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("close: %s", err)
		}
	}()
	if s.ConnTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.ConnTimeout)); err != nil {
			log.Warnf("cannot set deadline: %s", err)
			return
		}
	}
	log.Debug("connected")
	s.Handler.Serve(conn, log)
}
