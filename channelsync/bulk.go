package channelsync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	syncErrors "github.com/commercekit/channelsync/errors"
	"github.com/commercekit/channelsync/result"
)

// BulkSynchronizeProducts synchronizes many products to one channel in
// batches, pausing between batches so a large catalog cannot saturate the
// persistence layer. Per-item failures are collected, not fatal; the returned
// BulkResult aggregates outcomes across all items. The error return is
// reserved for whole-run failures such as context cancellation or an inactive
// channel.
func (s *Service) BulkSynchronizeProducts(ctx context.Context, channel ChannelState, productIDs []string, source ProductSource) (*BulkResult, error) {
	const op = syncErrors.OpBulkSync
	start := s.now()

	if !channel.Active {
		return nil, syncErrors.NewSyncError(op, "sync",
			fmt.Errorf("channel %s is inactive", channel.ChannelID))
	}
	if source == nil {
		return nil, syncErrors.NewValidationError("source", "is required")
	}

	agg := &BulkResult{Total: len(productIDs)}
	if agg.Total == 0 {
		return agg, nil
	}

	// One token per batch interval, no burst beyond the first batch.
	limiter := rate.NewLimiter(rate.Every(s.batchPause), 1)

	var totalDuration time.Duration
	for offset := 0; offset < len(productIDs); offset += s.batchSize {
		if err := limiter.Wait(ctx); err != nil {
			return agg, syncErrors.NewSyncError(op, "sync", err)
		}

		end := offset + s.batchSize
		if end > len(productIDs) {
			end = len(productIDs)
		}

		for _, productID := range productIDs[offset:end] {
			outcome := s.syncOne(ctx, productID, channel, source)
			if !outcome.IsOk() {
				agg.Failed++
				agg.Errors = append(agg.Errors, outcome.Cause())
				continue
			}
			res := outcome.Value()
			agg.Successful++
			if res.ConflictDetected {
				agg.Conflicted++
			}
			totalDuration += res.Duration
		}

		s.logger.Debug("bulk batch completed",
			"channel_id", channel.ChannelID,
			"processed", end,
			"total", agg.Total)
	}

	if agg.Successful > 0 {
		agg.AverageDuration = totalDuration / time.Duration(agg.Successful)
	}

	s.metrics.RecordSyncDuration(string(op), s.now().Sub(start))
	s.logger.Info("bulk synchronization completed",
		"channel_id", channel.ChannelID,
		"total", agg.Total,
		"successful", agg.Successful,
		"failed", agg.Failed,
		"conflicted", agg.Conflicted)
	return agg, nil
}

// syncOne resolves and synchronizes a single product, packaging the outcome
// so the bulk loop treats success and failure uniformly.
func (s *Service) syncOne(ctx context.Context, productID string, channel ChannelState, source ProductSource) result.Result[*SyncResult] {
	product, err := source.ProductState(ctx, productID)
	if err != nil {
		return result.Fail[*SyncResult]("SOURCE_FAILURE",
			fmt.Sprintf("resolving product %s", productID),
			syncErrors.NewSyncError(syncErrors.OpBulkSync, "source", err))
	}

	res, err := s.SynchronizeFromProduct(ctx, product, channel)
	if err != nil {
		return result.Fail[*SyncResult]("SYNC_FAILURE",
			fmt.Sprintf("synchronizing product %s", productID), err)
	}
	return result.Ok(res)
}
