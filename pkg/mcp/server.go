package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/entrhq/browserd/pkg/logging"
)

// maxLineSize bounds a single incoming message.
const maxLineSize = 16 * 1024 * 1024

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Logger  *logging.Logger
}

// Server answers MCP requests for a browser pool.
type Server struct {
	pool  Pool
	tools *Registry
	opts  Options
	log   *logging.Logger

	writeMu sync.Mutex
}

// NewServer creates a server exposing tools and the pool's resources.
func NewServer(pool Pool, tools *Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Name == "" {
		opts.Name = "browserd"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		pool:  pool,
		tools: tools,
		opts:  opts,
		log:   opts.Logger.Component("mcp"),
	}
}

// Serve reads newline-delimited requests from r until EOF or ctx is done and
// writes responses to w. Requests are handled concurrently; each response is
// written as one complete line. Serve returns after every in-flight request
// has been answered.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if resp := s.HandleMessage(ctx, line); resp != nil {
					s.write(w, resp)
				}
			}()
		}
	}
}

// HandleMessage processes one raw message. It returns nil for notifications.
func (s *Server) HandleMessage(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return &Response{JSONRPC: "2.0", Error: NewError(CodeParseError, "Parse error: %v", err)}
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: NewError(CodeInvalidRequest, "Invalid request")}
	}

	result, err := s.dispatch(ctx, &req)
	if req.IsNotification() {
		if err != nil {
			s.log.Debugf("notification %s failed: %v", req.Method, err)
		}
		return nil
	}

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = NewError(CodeInternalError, "%v", err)
		}
		s.log.Warnf("%s failed: %s", req.Method, rpcErr.Message)
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case "initialize":
		var params struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		if err := decodeArgs(req.Params, &params); err != nil {
			return nil, err
		}
		version := params.ProtocolVersion
		if version == "" {
			version = ProtocolVersion
		}
		return InitializeResult{
			ProtocolVersion: version,
			ServerInfo:      ServerInfo{Name: s.opts.Name, Version: s.opts.Version},
			Capabilities: map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
		}, nil

	case "ping", "notifications/initialized", "notifications/cancelled":
		return struct{}{}, nil

	case "tools/list":
		return map[string]any{"tools": s.tools.List()}, nil

	case "tools/call":
		return s.callTool(ctx, req.Params)

	case "resources/list":
		return map[string]any{"resources": resourceList()}, nil

	case "resources/templates/list":
		return map[string]any{"resourceTemplates": resourceTemplates()}, nil

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := decodeArgs(req.Params, &params); err != nil {
			return nil, err
		}
		if params.URI == "" {
			return nil, NewError(CodeInvalidParams, "uri is required")
		}
		contents, err := s.readResource(ctx, params.URI)
		if err != nil {
			return nil, err
		}
		return map[string]any{"contents": contents}, nil

	default:
		return nil, NewError(CodeMethodNotFound, "Method not found: %s", req.Method)
	}
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := decodeArgs(raw, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, NewError(CodeInvalidParams, "tool name is required")
	}

	tool, ok := s.tools.Get(params.Name)
	if !ok {
		return nil, NewError(CodeMethodNotFound, "Unknown tool: %s", params.Name)
	}

	s.log.Debugf("calling tool %s", params.Name)
	result, err := tool.Execute(ctx, params.Arguments)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		return ErrorResult("Error: %v", err), nil
	}
	return result, nil
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Errorf("failed to encode response: %v", err)
		data, _ = json.Marshal(&Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   NewError(CodeInternalError, "failed to encode response"),
		})
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := w.Write(data); err != nil {
		s.log.Errorf("failed to write response: %v", err)
	}
}
