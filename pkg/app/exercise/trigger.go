package exercise

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
)

// ScriptTrigger runs an external script when corruption is detected. The
// script receives the device, offset, size and reason as arguments.
type ScriptTrigger struct {
	Script string
	Logger zerolog.Logger
}

// RunTrigger implements interfaces.TriggerRunner
func (t *ScriptTrigger) RunTrigger(ctx context.Context, event interfaces.TriggerEvent) error {
	if t.Script == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, t.Script,
		event.Device,
		strconv.FormatInt(event.Offset, 10),
		strconv.FormatUint(uint64(event.Size), 10),
		event.Reason,
	)
	out, err := cmd.CombinedOutput()
	t.Logger.Info().Str("script", t.Script).Str("device", event.Device).Bytes("output", out).Msg("trigger executed")
	if err != nil {
		return fmt.Errorf("trigger script %s: %w", t.Script, err)
	}
	return nil
}
