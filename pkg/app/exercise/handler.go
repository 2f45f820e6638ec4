package exercise

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/app"
	"github.com/deploymenttheory/go-btag/pkg/app/dump"
)

// Handle runs the exercise. Each stream runs in its own goroutine with its
// own devices, write-order log and verifiers.
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	blockSize, _ := dump.ParseBlockSize(req.BlockSize)
	class, _ := types.ParseDeviceClass(req.Class)
	flags, _ := types.ParseVerifyFlags(req.VerifyFlags)

	runID := uuid.New()
	logger := ctx.Logger.With().Str("run", runID.String()).Logger()
	diagnostics := &syncWriter{w: ctx.Stderr}

	logger.Info().
		Int("streams", req.Streams).
		Int("devices", req.Devices).
		Int("records", req.Records).
		Uint32("block_size", blockSize).
		Str("class", class.String()).
		Strs("verify", flags.Names()).
		Msg("starting exercise")

	started := time.Now()
	results := make([]StreamResult, req.Streams)
	var finished atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < req.Streams; i++ {
		i := i
		streamLogger := logger.With().Int("stream", i).Logger()
		cfg := StreamConfig{
			Index:          i,
			Dir:            filepath.Join(req.Dir, runID.String()),
			Devices:        req.Devices,
			Records:        req.Records,
			BlockSize:      blockSize,
			RecordBlocks:   req.RecordBlocks,
			Class:          class,
			Flags:          flags,
			ReadAfterWrite: req.ReadAfterWrite,
			Hostname:       req.Hostname,
			JobID:          runID.ID(),
			HistorySize:    req.HistorySize,
			Diagnostics:    diagnostics,
			Fs:             req.Fs,
			Logger:         streamLogger,
		}
		if req.TriggerScript != "" {
			cfg.Trigger = &ScriptTrigger{Script: req.TriggerScript, Logger: streamLogger}
		}

		g.Go(func() error {
			stream, err := NewStream(cfg)
			if err != nil {
				return fmt.Errorf("stream %d: %w", cfg.Index, err)
			}
			defer stream.Close()

			err = stream.Run(gctx, req.Passes)
			results[cfg.Index] = stream.Result()
			done := int(finished.Add(1))
			ctx.Progress(fmt.Sprintf("stream %d finished", cfg.Index), done*100/req.Streams)
			if err != nil {
				return fmt.Errorf("stream %d: %w", cfg.Index, err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	response := &Response{
		RunID:   runID.String(),
		Streams: results,
		Elapsed: time.Since(started),
	}
	for _, r := range results {
		response.TotalErrors += r.Errors
		response.TotalWarning += r.Warnings
	}

	logger.Info().
		Int("errors", response.TotalErrors).
		Int("warnings", response.TotalWarning).
		Dur("elapsed", response.Elapsed).
		Msg("exercise complete")

	if runErr != nil {
		if ctx.Err() != nil {
			return response, app.NewError(app.ErrCodeCancelled, "exercise cancelled", runErr)
		}
		return response, app.NewError(app.ErrCodeDeviceAccess, "exercise failed", runErr)
	}
	if response.TotalErrors > 0 {
		return response, app.NewError(app.ErrCodeVerification,
			fmt.Sprintf("%d verification error(s) detected", response.TotalErrors), nil)
	}
	return response, nil
}

// syncWriter serializes diagnostic reports from concurrent streams
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return io.Discard.Write(p)
	}
	return s.w.Write(p)
}
