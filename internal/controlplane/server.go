package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/termcoder/tc/internal/domain"
)

// connIdleTimeout bounds how long a connection may sit without sending its
// request line. request_human_input legitimately blocks for minutes, so the
// deadline is lifted once the request has been read.
const connIdleTimeout = 30 * time.Second

// Server accepts control-plane connections on a UNIX-domain socket, one
// request/response round per connection.
type Server struct {
	svc        *Service
	socketPath string
}

// NewServer creates a server for the service at the given socket path.
func NewServer(svc *Service, socketPath string) *Server {
	return &Server{svc: svc, socketPath: socketPath}
}

// Serve listens until the context is cancelled. A stale socket file from a
// crashed run is removed before binding.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(connIdleTimeout))

	var req Request
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})

	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, Response{OK: false, ErrorKind: string(domain.KindValidation), Error: "malformed request"})
		return
	}

	payload, err := s.dispatch(ctx, req)
	if err != nil {
		s.reply(conn, Response{OK: false, ErrorKind: string(domain.KindOf(err)), Error: err.Error()})
		return
	}
	s.reply(conn, Response{OK: true, Payload: payload})
}

func (s *Server) dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	switch req.Op {
	case OpReportProgress:
		var p ProgressParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.svc.ReportProgress(ctx, req.SessionToken, req.TaskID, p)
	case OpReportCompletion:
		var p CompletionParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.svc.ReportCompletion(ctx, req.SessionToken, req.TaskID, p)
	case OpReportFailure:
		var p FailureParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.svc.ReportFailure(ctx, req.SessionToken, req.TaskID, p)
	case OpReportReview:
		var p ReviewParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.svc.ReportReview(ctx, req.SessionToken, req.TaskID, p)
	case OpGetContext:
		var p ContextParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		out, err := s.svc.GetContext(ctx, req.SessionToken, req.TaskID, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	case OpRequestHumanInput:
		var p HumanInputParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		out, err := s.svc.RequestHumanInput(ctx, req.SessionToken, req.TaskID, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	default:
		return nil, domain.Errorf(domain.KindValidation, "unknown operation %q", req.Op)
	}
}

func (s *Server) reply(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("WARNING: failed to marshal control-plane response: %v", err)
		return
	}
	conn.Write(append(data, '\n'))
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.Errorf(domain.KindValidation, "malformed params: %v", err)
	}
	return nil
}
