//go:build windows

package pipesvc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
)

// Server accepts connections on the named pipe and dispatches each request
// it decodes to a Dispatcher. One goroutine per connection, mirroring the
// worker-per-unit-of-work shape used elsewhere in this codebase rather than
// the overlapped-IO completion-port model the original service used.
type Server struct {
	Dispatcher *Dispatcher
}

// Serve runs until ctx is canceled. It creates the next pipe instance after
// each client connects; a client arriving in between gets ERROR_PIPE_BUSY,
// which dialPipe waits out.
func (s *Server) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := createPipeInstance(PipeName)
		if err != nil {
			return err
		}

		if err := connectPipeInstance(f); err != nil {
			f.Close()
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			log.Printf("[pipesvc] connect failed: %v", err)
			continue
		}

		go s.handleConn(f)
	}
}

func (s *Server) handleConn(f *os.File) {
	defer f.Close()

	dec := json.NewDecoder(f)
	enc := json.NewEncoder(f)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.Dispatcher.Handle(req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}
