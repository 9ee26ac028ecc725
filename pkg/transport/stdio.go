package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/fluffypony/universe/pkg/logging"
)

// StdioTransport serves a single agent over a pair of streams, normally the
// process's stdin and stdout. There is no peer address to check; the agent
// is whoever launched the process.
type StdioTransport struct {
	opts    options
	handler Handler
	in      io.Reader
	out     io.Writer
}

// NewStdioTransport creates a stdio transport. Nil streams default to
// os.Stdin and os.Stdout.
func NewStdioTransport(in io.Reader, out io.Writer, handler Handler, opts ...Option) *StdioTransport {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &StdioTransport{
		opts:    newOptions(opts),
		handler: handler,
		in:      in,
		out:     out,
	}
}

// Serve processes messages until the input ends or ctx is cancelled
func (t *StdioTransport) Serve(ctx context.Context) error {
	caller := Caller{ClientID: "stdio", RemoteAddr: "stdio"}
	s := session{
		caller:  caller,
		handler: t.handler,
		opts:    &t.opts,
		logger:  t.opts.logger.WithFields(logging.String("client_id", caller.ClientID)),
		reader:  bufio.NewReader(t.in),
		writer:  bufio.NewWriter(t.out),
		bucket:  newTokenBucket(t.opts.rateLimit, nil),
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return s.run(gctx)
	})

	// closing the input unblocks the reader on cancellation
	g.Go(func() error {
		select {
		case <-gctx.Done():
			if closer, ok := t.in.(io.Closer); ok {
				_ = closer.Close()
			}
		case <-done:
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil && (err == nil || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		return nil
	}
	return err
}
