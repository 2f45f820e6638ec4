package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool
	NoColor      bool

	// Stdout receives command output; Stderr receives diagnostics
	Stdout io.Writer
	Stderr io.Writer

	Logger zerolog.Logger

	// Progress reporting
	ProgressCallback func(message string, percent int)
}

// NewContext creates a new application context
func NewContext() *Context {
	c := &Context{
		Context: context.Background(),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	c.ConfigureLogger()
	return c
}

// ConfigureLogger rebuilds the logger from the verbosity settings. Call it
// after changing Verbose, Quiet, NoColor or Stderr.
func (c *Context) ConfigureLogger() {
	level := zerolog.InfoLevel
	switch {
	case c.Quiet:
		level = zerolog.ErrorLevel
	case c.Verbose:
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: c.stderr(), NoColor: c.NoColor, TimeFormat: time.RFC3339}
	c.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(string, int)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(message string, percent int) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(message, percent)
	}
}

// Log outputs a message at debug level
func (c *Context) Log(message string) {
	c.Logger.Debug().Msg(message)
}

// Error outputs an error message unless quiet
func (c *Context) Error(message string) {
	c.Logger.Error().Msg(message)
}

func (c *Context) stderr() io.Writer {
	if c.Stderr == nil {
		return os.Stderr
	}
	return c.Stderr
}

func (c *Context) stdout() io.Writer {
	if c.Stdout == nil {
		return os.Stdout
	}
	return c.Stdout
}

// Out returns the writer command output goes to
func (c *Context) Out() io.Writer {
	return c.stdout()
}
