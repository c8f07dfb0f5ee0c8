/**
 * @description
 * The orchestrating settlement service: one Tick runs the full per-tick
 * control flow: ingest a page of gateway events (matching orders on
 * observe), then fetch the chain head once and run the confirm and finalize
 * sweeps (matching orders on each promotion). Hook dispatch happens inside
 * the matcher via the dispatcher and is never awaited here.
 *
 * @notes
 * - An upstream failure aborts the tick early; the next tick retries from
 *   the unchanged cursor.
 * - A head-height failure skips both sweeps for the tick only; ingestion
 *   has already run.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
)

// Service wires the ingestor and confirmation engine into the per-tick
// control flow.
type Service struct {
	ingestor *Ingestor
	engine   *ConfirmationEngine
	source   EventSource
	logger   *slog.Logger
}

// NewService creates the orchestrating service.
func NewService(ingestor *Ingestor, engine *ConfirmationEngine, source EventSource, logger *slog.Logger) *Service {
	return &Service{
		ingestor: ingestor,
		engine:   engine,
		source:   source,
		logger:   logger,
	}
}

// Tick executes one ingestion/confirmation cycle. The caller bounds ctx
// with the tick timeout.
func (s *Service) Tick(ctx context.Context) error {
	ingested, err := s.ingestor.IngestPage(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if ingested > 0 {
		s.logger.Info("ingested gateway events", "count", ingested)
	}

	head, err := s.source.HeadHeight(ctx)
	if err != nil {
		// Sweeps are retried next tick; ingestion above already committed.
		s.logger.Warn("head height unavailable; skipping sweeps", "err", err)
		return nil
	}

	if err := s.engine.SweepConfirm(ctx, head); err != nil {
		return err
	}
	return s.engine.SweepFinalize(ctx, head)
}
