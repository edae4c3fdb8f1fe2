package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/xyfleet/internal/model"
)

// WorkerKeepAlive renews this worker's heartbeat, keeping its leases live.
func (s *SQLStore) WorkerKeepAlive(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "WorkerKeepAlive")
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return ErrReadOnly
	}

	return s.inTx(ctx, "keep_alive", s.heartbeat(ctx))
}

// heartbeat renews this worker's row. A row removed by another worker's
// stale cleanup is inserted again at this worker's barrier round; the leases
// it held were released by that cleanup and their saves report ErrLeaseLost.
func (s *SQLStore) heartbeat(ctx context.Context) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q("UPDATE workers SET last_active_at = ? WHERE worker_id = ?"), s.now().Unix(), s.workerID)
		if err != nil {
			return fmt.Errorf("update heartbeat: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if n == 1 {
			return nil
		}
		s.logger.Warn("worker row missing, registering again", "worker_id", s.workerID, "barrier_round", s.round.Load())
		workersReregisteredTotal.Inc()
		return s.insertWorker(ctx, tx)
	}
}

// SynchronizeWorkers blocks until every live worker has reached the barrier.
// Each call enters the next barrier round; the caller is released once no
// live worker that still runs rounds is at an earlier round. Rounds only
// grow, so a worker that enters the following round before a slower peer
// polls cannot hold that peer back. Polling renews the heartbeat, and
// workers whose heartbeat went stale do not hold the barrier.
func (s *SQLStore) SynchronizeWorkers(ctx context.Context) (err error) {
	round := s.round.Load() + 1
	ctx, span := s.startSpan(ctx, "SynchronizeWorkers", attribute.Int64("xyfleet.barrier_round", round))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return ErrReadOnly
	}

	s.round.Store(round)
	if err := s.inTx(ctx, "barrier_enter", func(tx *sql.Tx) error {
		if err := s.heartbeat(ctx)(tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q("UPDATE workers SET synchronize = 1, barrier_round = ? WHERE worker_id = ?"), round, s.workerID)
		if err != nil {
			return fmt.Errorf("enter barrier round %d: %w", round, err)
		}
		return nil
	}); err != nil {
		return err
	}
	s.logger.Info("waiting for workers to synchronize", "round", round)

	ticker := time.NewTicker(s.barrierInterval)
	defer ticker.Stop()

	for {
		var behind int
		if err := s.inTx(ctx, "barrier_poll", func(tx *sql.Tx) error {
			if err := s.heartbeat(ctx)(tx); err != nil {
				return err
			}
			if err := tx.QueryRowContext(ctx, s.q(`
				SELECT COUNT(*) FROM workers
				WHERE last_active_at >= ? AND finished = 0 AND barrier_round < ?`), s.cutoff(), round,
			).Scan(&behind); err != nil {
				return fmt.Errorf("count workers behind round %d: %w", round, err)
			}
			if behind > 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, s.q("UPDATE workers SET synchronize = 0 WHERE worker_id = ?"), s.workerID); err != nil {
				return fmt.Errorf("leave barrier round %d: %w", round, err)
			}
			return nil
		}); err != nil {
			return err
		}
		if behind == 0 {
			s.logger.Info("workers synchronized", "round", round)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FinishRounds marks this worker as done with refinement rounds. Barriers
// entered by other workers stop waiting for it while it keeps heartbeating,
// for instance while it anneals vortex jobs.
func (s *SQLStore) FinishRounds(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "FinishRounds", attribute.Int64("xyfleet.barrier_round", s.round.Load()))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return ErrReadOnly
	}

	s.finished.Store(true)
	return s.inTx(ctx, "finish_rounds", func(tx *sql.Tx) error {
		if err := s.heartbeat(ctx)(tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q("UPDATE workers SET finished = 1, synchronize = 0 WHERE worker_id = ?"), s.workerID); err != nil {
			return fmt.Errorf("finish rounds: %w", err)
		}
		return nil
	})
}

// ListWorkers returns every registered worker, most recently active first.
func (s *SQLStore) ListWorkers(ctx context.Context) ([]model.Worker, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT worker_id, hostname, registered_at, last_active_at, synchronize, barrier_round, finished
		FROM workers ORDER BY last_active_at DESC, worker_id ASC`))
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	cutoff := s.cutoff()
	var workers []model.Worker
	for rows.Next() {
		var (
			w                    model.Worker
			registered, lastSeen int64
			flag, finished       int
		)
		if err := rows.Scan(&w.ID, &w.Hostname, &registered, &lastSeen, &flag, &w.Round, &finished); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		w.RegisteredAt = time.Unix(registered, 0).UTC()
		w.LastActiveAt = time.Unix(lastSeen, 0).UTC()
		w.Synchronize = flag != 0
		w.Finished = finished != 0
		w.Live = lastSeen >= cutoff
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return workers, nil
}
