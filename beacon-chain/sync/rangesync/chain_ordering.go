package rangesync

import "github.com/theQRL/qrysm/consensus-types/primitives"

// validateBatchesStatus walks batches (already in ascending startEpoch
// order) and enforces the global batch-state invariant P1 (spec.md §3,
// §4.3):
//
//	AwaitingValidation*   Processing?   (AwaitingDownload|Downloading|AwaitingProcessing)*
//
// Any deviation is a bug and is reported as ErrInvalidBatchOrder.
func validateBatchesStatus(batches []*Batch) error {
	processingSeen := false
	preProcessingSeen := false
	for _, b := range batches {
		switch b.State() {
		case BatchAwaitingValidation:
			if processingSeen || preProcessingSeen {
				return wrapError(KindInvalidBatchOrder, ErrInvalidBatchOrder,
					"AwaitingValidation batch found after Processing or pre-processing batch")
			}
		case BatchProcessing:
			if processingSeen {
				return wrapError(KindInvalidBatchOrder, ErrInvalidBatchOrder,
					"more than one batch in Processing state")
			}
			if preProcessingSeen {
				return wrapError(KindInvalidBatchOrder, ErrInvalidBatchOrder,
					"Processing batch found after pre-processing batch")
			}
			processingSeen = true
		case BatchAwaitingDownload, BatchDownloading, BatchAwaitingProcessing:
			preProcessingSeen = true
		}
	}
	return nil
}

// getNextBatchToProcess returns the first batch (in ascending startEpoch
// order) ready to be handed to the processor, skipping a leading run of
// AwaitingValidation batches. If the first non-AwaitingValidation batch
// is not in AwaitingProcessing, there is nothing to process yet
// (spec.md §4.3).
func getNextBatchToProcess(batches []*Batch) (*Batch, bool) {
	for _, b := range batches {
		if b.State() == BatchAwaitingValidation {
			continue
		}
		if b.State() == BatchAwaitingProcessing {
			return b, true
		}
		return nil, false
	}
	return nil, false
}

// toBeProcessedStartEpoch returns the start epoch the processor should
// consider "done" up to: the greatest startEpoch among AwaitingValidation
// batches plus epochsPerBatch, or anchor if there are none (spec.md §4.3).
func toBeProcessedStartEpoch(batches []*Batch, anchor primitives.Epoch, epochsPerBatch uint64) primitives.Epoch {
	found := false
	var max primitives.Epoch
	for _, b := range batches {
		if b.State() != BatchAwaitingValidation {
			continue
		}
		if !found || b.StartEpoch() > max {
			max = b.StartEpoch()
			found = true
		}
	}
	if !found {
		return anchor
	}
	return max.Add(epochsPerBatch)
}

// toBeDownloadedStartEpoch returns the start epoch of the next batch that
// should be created: the last existing batch's startEpoch plus
// epochsPerBatch, or anchor if there are no batches yet (spec.md §4.3).
func toBeDownloadedStartEpoch(batches []*Batch, anchor primitives.Epoch, epochsPerBatch uint64) primitives.Epoch {
	if len(batches) == 0 {
		return anchor
	}
	last := batches[len(batches)-1]
	return last.StartEpoch().Add(epochsPerBatch)
}
