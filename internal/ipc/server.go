package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// ErrValidation marks handler failures caused by bad request parameters.
// Handlers wrap it so the dispatcher can map them to INVALID_PARAMS instead
// of INTERNAL_ERROR.
var ErrValidation = errors.New("ipc: invalid params")

// maxLineSize bounds a single request line. Event lists can get big.
const maxLineSize = 16 * 1024 * 1024

// Handler processes one request's params and returns a result value.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Request is an incoming JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Server serves newline-delimited JSON-RPC 2.0 over a Unix domain socket.
// Each accepted connection gets its own goroutine; within a connection,
// requests are handled strictly sequentially.
type Server struct {
	socketPath string

	mu       sync.Mutex
	handlers map[string]Handler
	listener net.Listener

	wg sync.WaitGroup
}

// NewServer creates a server that will listen at socketPath.
func NewServer(socketPath string) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]Handler),
	}
}

// Register binds a method name to a handler. Registering the same name twice
// is a programmer error and is rejected.
func (s *Server) Register(method string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[method]; exists {
		return fmt.Errorf("ipc: method %q already registered", method)
	}
	s.handlers[method] = h
	return nil
}

// Listen binds the socket, removing any stale socket file first.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("ipc: failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: failed to listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until the context is cancelled or the listener
// closes. Listen must have been called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("ipc: server is not listening")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Printf("ipc: accept failed: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// Close shuts the listener and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// handleConn runs one connection's read-dispatch-write loop. A failure on
// this connection never affects others; the socket is always closed on exit.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(ctx, line)
		if err := writeResponse(writer, resp); err != nil {
			log.Printf("ipc: write failed: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("ipc: read failed: %v", err)
	}
}

// dispatch parses one request line and routes it to its handler, mapping
// failures onto the protocol error table.
func (s *Server) dispatch(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "method is required")
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			return &Response{JSONRPC: "2.0", Error: rpcErr, ID: normalizeID(req.ID)}
		case errors.Is(err, ErrValidation):
			return errorResponse(req.ID, CodeInvalidParams, err.Error())
		default:
			log.Printf("ipc: %s failed: %v", req.Method, err)
			return errorResponse(req.ID, CodeInternalError, err.Error())
		}
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: normalizeID(req.ID)}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   NewRPCError(code, message),
		ID:      normalizeID(id),
	}
}

// normalizeID keeps the caller's id, or null when it was absent.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeResponse(w *bufio.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
