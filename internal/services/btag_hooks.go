package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/managers/writeorder"
	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/types"
)

// BtagHooks is the entry point the read/write loops of one thread call into.
// Each thread owns its own BtagHooks; nothing here is safe for concurrent use.
// Error counting stays with the caller: a non-nil error, a non-zero mismatch
// count or a failure status each count as one error, a warning never does.
type BtagHooks struct {
	Log      *writeorder.Log
	Stamper  *BtagStamper
	Fields   *BtagFieldVerifier
	Order    *WriteOrderVerifier
	Reporter *DiagnosticReporter
	Options  VerifyOptions
	Logger   zerolog.Logger
}

// NewBtagHooks wires the stamper and verifiers for a thread writing to
// deviceCount output devices.
func NewBtagHooks(devices interfaces.DeviceResolver, deviceCount int, opts VerifyOptions, reporter *DiagnosticReporter, logger zerolog.Logger) (*BtagHooks, error) {
	log, err := writeorder.NewLog(deviceCount)
	if err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = NewDiagnosticReporter(nil, logger)
	}
	return &BtagHooks{
		Log:      log,
		Stamper:  NewBtagStamper(),
		Fields:   NewBtagFieldVerifier(devices),
		Order:    NewWriteOrderVerifier(devices, logger),
		Reporter: reporter,
		Options:  opts,
		Logger:   logger,
	}, nil
}

// StartPass recreates the write-order log so no entry survives from the
// previous pass.
func (h *BtagHooks) StartPass(deviceCount int) error {
	if err := h.Log.Reset(deviceCount); err != nil {
		return fmt.Errorf("failed to reset write order log: %w", err)
	}
	return nil
}

// StampBeforeWrite stamps the previous write into tag, encodes it into the
// start of block and seals the CRC. It returns the block CRC.
func (h *BtagHooks) StampBeforeWrite(block []byte, tag *types.BlockTag) (uint32, error) {
	return h.Stamper.StampBlock(block, tag, h.Log)
}

// RecordAfterWrite records a successful write so the next stamped block
// references it.
func (h *BtagHooks) RecordAfterWrite(rec types.WriteRecord) {
	h.Log.Record(rec)
}

// VerifyOpaqueType checks the opaque trailer description of tag. A failure
// is a decode error, never retried.
func (h *BtagHooks) VerifyOpaqueType(tag *types.BlockTag) error {
	if err := btag.ValidateOpaque(tag); err != nil {
		h.Logger.Error().Err(err).Msg("block tag opaque data is corrupt")
		return err
	}
	return nil
}

// VerifyFields compares expected and received and returns the number of
// mismatched fields. Mismatches are reported once per call.
func (h *BtagHooks) VerifyFields(ctx context.Context, expected, received *types.BlockTag) int {
	mismatches := h.Fields.CompareFields(h.Options, expected, received)
	if len(mismatches) == 0 {
		return 0
	}

	device := "serial " + received.SerialString()
	offset := received.ByteOffset(received.Class(), received.DeviceSize)
	if err := h.Reporter.ReportFieldMismatches(ctx, device, offset, expected, received, mismatches); err != nil {
		h.Logger.Warn().Err(err).Msg("failed to report block tag mismatch")
	}
	return len(mismatches)
}

// VerifyWriteOrder runs the causality check for tag and reports failures
func (h *BtagHooks) VerifyWriteOrder(ctx context.Context, tag *types.BlockTag, transferSize uint32) types.WriteOrderResult {
	result := h.Order.VerifyWriteOrder(ctx, h.Options, tag, transferSize)
	if result.IsFailure() {
		if err := h.Reporter.ReportMismatch(ctx, tag, tag.WriteOrder, result.PreviousTag, result.ErrorTag, result); err != nil {
			h.Logger.Warn().Err(err).Msg("failed to report write order failure")
		}
	}
	return result
}
