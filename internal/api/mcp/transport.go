// Package mcp serves the context analysis tools over the Model Context
// Protocol: line-delimited JSON-RPC 2.0 on stdin/stdout.
//
// Framing rules: one request per newline-terminated line on stdin, one
// response per newline-terminated line on stdout, and every diagnostic byte
// on stderr. Anything else on stdout corrupts the stream.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport bridges raw stdio streams and the Server, one request at a
// time. Its logger targets stderr so stdout carries only response frames.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport wires srv to the given streams. In production these are
// os.Stdin and os.Stdout; tests pass buffers.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "convoscope-mcp: ", log.LstdFlags),
	}
}

// Serve handles requests until stdin closes or ctx is cancelled. Requests
// are processed synchronously in arrival order; the protocol does not need
// transport-level concurrency.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Tool calls can carry large argument payloads.
	const maxBuf = 4 * 1024 * 1024
	buf := make([]byte, maxBuf)
	scanner.Buffer(buf, maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			// HandleRequest encodes most failures as JSON-RPC error
			// responses itself; anything that still escapes becomes an
			// internal-error frame so the client always gets a response.
			t.logger.Printf("handler error: %v", err)
			resp = t.internalErrorResponse(line, err)
		}

		if err := t.writeResponse(resp); err != nil {
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}

		// A second check covers signals that arrived during a slow handler.
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled after handler, shutting down")
			return ctx.Err()
		default:
		}
	}
}

func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// internalErrorResponse builds an error frame for a request the server could
// not answer, recovering the request ID from the raw bytes when possible.
func (t *StdioTransport) internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
