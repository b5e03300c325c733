package core

import (
	"fmt"
	"maps"

	"github.com/omxlabs/amx-sub001/internal/errs"
	"github.com/omxlabs/amx-sub001/internal/observability"
)

// SequenceValidator validates source sequences per partition. Checking and
// advancing are separate steps so that a rejected command does not consume
// its sequence: the event log then replays without gaps.
// Not thread-safe: only the sequencer goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// CallerPartition is the ordering partition of commands signed by caller.
func CallerPartition(caller string) string {
	return "caller:" + caller
}

// PricePartition is the ordering partition of a price feed.
func PricePartition(feedID string) string {
	return "price:" + feedID
}

// ValidateSequence checks that sourceSequence is exactly the next one
// expected for the partition. It does not advance.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			errs.ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence > expected {
		if sv.metrics != nil {
			sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			errs.ErrSequenceGap, partition, expected, sourceSequence)
	}

	return nil
}

// ValidatePriceSequence accepts any publish time newer than the last one
// seen for the feed; gaps are normal for price streams. Stale quotes report
// ok=false and are skipped without error.
func (sv *SequenceValidator) ValidatePriceSequence(feedID string, publishTime int64) (ok bool) {
	return publishTime >= sv.expectedNextSeq[PricePartition(feedID)]
}

// Advance records sourceSequence as applied.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if next := sourceSequence + 1; next > sv.expectedNextSeq[partition] {
		sv.expectedNextSeq[partition] = next
	}
}

// GetExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes the expected sequence.
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// RestorePartition is SetExpectedSequence under its recovery name.
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}

// GetAllPartitions copies the partition table for snapshots.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	return maps.Clone(sv.expectedNextSeq)
}
