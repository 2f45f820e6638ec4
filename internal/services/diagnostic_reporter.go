package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/types"
)

// DiagnosticReporter renders block tag mismatches for an operator and runs
// the injected diagnostic collaborators.
type DiagnosticReporter struct {
	Out     io.Writer
	History interfaces.HistoryDumper
	Trigger interfaces.TriggerRunner
	Logger  zerolog.Logger
}

// NewDiagnosticReporter creates a reporter writing to out
func NewDiagnosticReporter(out io.Writer, logger zerolog.Logger) *DiagnosticReporter {
	return &DiagnosticReporter{Out: out, Logger: logger}
}

// ReportMismatch writes one report for a failed write-order verification:
// the current tag, the previous write as claimed and as read back, the
// failing sub-block and a diff line per mismatched field.
func (r *DiagnosticReporter) ReportMismatch(ctx context.Context, current *types.BlockTag, expectedPrev *types.WriteOrderExtension,
	receivedPrev *types.BlockTag, errorSub *types.BlockTag, result types.WriteOrderResult) error {

	var b strings.Builder
	fmt.Fprintf(&b, "\nWrite order verification failed: %s\n", result.Message)
	fmt.Fprintf(&b, "  Reason: %s\n", result.Reason)
	fmt.Fprintf(&b, "  Device: %s (index %d)\n", orNone(result.Device), result.DeviceIndex)
	if expectedPrev != nil && !expectedPrev.IsUnset() {
		fmt.Fprintf(&b, "  Previous write: %s at offset %d\n",
			humanize.IBytes(uint64(expectedPrev.WriteSize)), expectedPrev.WriteOffset)
	}
	if result.Err != nil {
		fmt.Fprintf(&b, "  Error: %v\n", result.Err)
	}

	if current != nil {
		FormatBlockTag(&b, "Current Block Tag", current)
	}
	if expectedPrev != nil {
		FormatWriteOrder(&b, "Previous Write (expected)", expectedPrev)
	}
	if receivedPrev != nil {
		FormatBlockTag(&b, "Previous Block Tag (received)", receivedPrev)
	}
	if errorSub != nil && errorSub != receivedPrev {
		FormatBlockTag(&b, fmt.Sprintf("Failing Block Tag (offset %d)", result.ErrorOffset), errorSub)
	}
	writeMismatches(&b, result.Mismatches)

	if err := r.write(&b); err != nil {
		return err
	}

	r.Logger.Error().Str("device", result.Device).Str("reason", result.Reason.String()).
		Int64("offset", result.ErrorOffset).Int("mismatches", len(result.Mismatches)).Msg("write order corruption detected")

	return r.runCollaborators(ctx, interfaces.TriggerEvent{
		Device: result.Device,
		Offset: result.ErrorOffset,
		Size:   writeSize(expectedPrev),
		Reason: result.Reason.String(),
	})
}

// ReportFieldMismatches writes one report for a failed field comparison
func (r *DiagnosticReporter) ReportFieldMismatches(ctx context.Context, device string, offset int64,
	expected, received *types.BlockTag, mismatches []types.FieldMismatch) error {

	var b strings.Builder
	fmt.Fprintf(&b, "\nBlock tag verification failed for device %s at offset %d: %d field(s) differ\n",
		orNone(device), offset, len(mismatches))
	if expected != nil {
		FormatBlockTag(&b, "Expected Block Tag", expected)
	}
	if received != nil {
		FormatBlockTag(&b, "Received Block Tag", received)
	}
	writeMismatches(&b, mismatches)

	if err := r.write(&b); err != nil {
		return err
	}

	r.Logger.Error().Str("device", device).Int64("offset", offset).Int("mismatches", len(mismatches)).
		Msg("block tag mismatch detected")

	return r.runCollaborators(ctx, interfaces.TriggerEvent{
		Device: device,
		Offset: offset,
		Size:   recordSize(expected),
		Reason: "field mismatch",
	})
}

// write appends the I/O history to the report and emits both in one Write,
// so reports from concurrent threads never interleave.
func (r *DiagnosticReporter) write(b *strings.Builder) error {
	if r.History != nil {
		if err := r.History.DumpHistory(b); err != nil {
			r.Logger.Warn().Err(err).Msg("history dump failed")
		}
	}
	if _, err := io.WriteString(r.out(), b.String()); err != nil {
		return fmt.Errorf("failed to write diagnostics: %w", err)
	}
	return nil
}

func (r *DiagnosticReporter) runCollaborators(ctx context.Context, event interfaces.TriggerEvent) error {
	if r.Trigger != nil {
		if err := r.Trigger.RunTrigger(ctx, event); err != nil {
			return fmt.Errorf("trigger failed: %w", err)
		}
	}
	return nil
}

func (r *DiagnosticReporter) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

// FormatBlockTag writes every field of tag with its byte offset
func FormatBlockTag(w io.Writer, title string, tag *types.BlockTag) {
	class := tag.Class()
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, f := range types.BlockTagFields {
		value := f.Format(tag)
		switch f.Name {
		case "Pattern Type":
			value += " " + tag.PatternType.String()
		case "Flags":
			value += " " + tag.Flags.String()
		case "Opaque Data Type":
			value += " " + tag.OpaqueDataType.String()
		}
		fmt.Fprintf(w, "  %-28s (%3d): %s\n", f.DisplayName(class), f.Offset, value)
	}
	if tag.WriteOrder != nil {
		formatWriteOrderFields(w, tag.WriteOrder)
	}
}

// FormatWriteOrder writes every field of an extension with its byte offset
func FormatWriteOrder(w io.Writer, title string, wo *types.WriteOrderExtension) {
	fmt.Fprintf(w, "\n%s:\n", title)
	formatWriteOrderFields(w, wo)
}

func formatWriteOrderFields(w io.Writer, wo *types.WriteOrderExtension) {
	for _, f := range types.WriteOrderFields {
		value := f.Format(wo)
		if f.Offset == 0 && wo.IsUnset() {
			value += " (unset)"
		}
		fmt.Fprintf(w, "  %-28s (%3d): %s\n", "Write Order "+f.Name, types.BlockTagSize+f.Offset, value)
	}
}

func writeMismatches(b *strings.Builder, mismatches []types.FieldMismatch) {
	if len(mismatches) == 0 {
		return
	}
	fmt.Fprintf(b, "\nMismatched fields:\n")
	for _, m := range mismatches {
		fmt.Fprintf(b, "  %s\n", m.String())
	}
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

func writeSize(wo *types.WriteOrderExtension) uint32 {
	if wo == nil {
		return 0
	}
	return wo.WriteSize
}

func recordSize(tag *types.BlockTag) uint32 {
	if tag == nil {
		return 0
	}
	return tag.RecordSize
}
