package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/xyfleet/internal/codec"
	"github.com/seantiz/xyfleet/internal/model"
)

// ClaimNextChunk leases the configuration with the fewest completed chunks
// (largest lattice first) that still needs chunks, and returns its next chunk
// carrying the previous chunk's spins.
func (s *SQLStore) ClaimNextChunk(ctx context.Context, simulationID int64) (task *model.ChunkTask, err error) {
	ctx, span := s.startSpan(ctx, "ClaimNextChunk", attribute.Int64("xyfleet.simulation_id", simulationID))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return nil, ErrReadOnly
	}

	err = s.inTx(ctx, "claim_chunk", func(tx *sql.Tx) error {
		task = nil

		var (
			t      model.ChunkTask
			holder sql.NullString
			spins  []byte
		)
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT c.configuration_id, c.completed_chunks + 1, m.algorithm, c.lattice_size,
				c.temperature, m.sweeps_per_chunk, c.active_worker_id, k.spins
			FROM configurations c
			INNER JOIN algorithm_metadata m ON m.metadata_id = c.metadata_id
			LEFT JOIN chunks k ON k.configuration_id = c.configuration_id AND k.chunk_index = c.completed_chunks
			LEFT JOIN workers w ON w.worker_id = c.active_worker_id
			WHERE c.simulation_id = ? AND c.completed_chunks < m.num_chunks AND `+leaseAvailable+`
			ORDER BY c.completed_chunks ASC, c.lattice_size DESC, c.configuration_id ASC
			LIMIT 1`+s.dialect.lockClause),
			simulationID, s.cutoff(),
		).Scan(&t.ConfigurationID, &t.Index, &t.Algorithm, &t.LatticeSize,
			&t.Temperature, &t.Sweeps, &holder, &spins)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next chunk: %w", err)
		}

		if err := s.takeConfiguration(ctx, tx, t.ConfigurationID, holder); err != nil {
			return err
		}

		if spins != nil {
			if t.Spins, err = codec.DecodeFloats(spins); err != nil {
				return fmt.Errorf("decode spins of configuration %d: %w", t.ConfigurationID, err)
			}
		}
		task = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if task != nil {
		span.SetAttributes(attribute.Int64("xyfleet.configuration_id", task.ConfigurationID), attribute.Int("xyfleet.chunk_index", task.Index))
	}
	return task, nil
}

// takeConfiguration writes this worker's lease on a configuration selected
// with the given holder. It fails with errClaimRaced if the holder changed.
func (s *SQLStore) takeConfiguration(ctx context.Context, tx *sql.Tx, configurationID int64, holder sql.NullString) error {
	guard, guardArgs := leaseGuard(holder)
	args := append([]any{s.workerID, configurationID}, guardArgs...)
	res, err := tx.ExecContext(ctx, s.q(
		"UPDATE configurations SET active_worker_id = ? WHERE configuration_id = ? AND "+guard), args...)
	if err != nil {
		return fmt.Errorf("lease configuration %d: %w", configurationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n != 1 {
		return errClaimRaced
	}
	if holder.Valid {
		s.logger.Info("reclaimed stale lease", "configuration_id", configurationID, "previous_worker_id", holder.String)
	}
	return nil
}

// releaseConfiguration clears this worker's lease if it still holds it.
// Extra conditions narrow the match further.
func (s *SQLStore) releaseConfiguration(ctx context.Context, tx *sql.Tx, configurationID int64, extra string, extraArgs ...any) error {
	args := append([]any{configurationID, s.workerID}, extraArgs...)
	res, err := tx.ExecContext(ctx, s.q(
		"UPDATE configurations SET active_worker_id = NULL WHERE configuration_id = ? AND active_worker_id = ?"+extra), args...)
	if err != nil {
		return fmt.Errorf("release configuration %d: %w", configurationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n != 1 {
		return ErrLeaseLost
	}
	return nil
}

// SaveChunk appends the chunk and its per-observable results and releases
// the lease. It returns ErrLeaseLost without writing anything if the lease
// was reclaimed or the configuration moved past this chunk.
func (s *SQLStore) SaveChunk(ctx context.Context, task *model.ChunkTask, start, end time.Time, spins []float64, results map[model.ObservableType]model.ObservableResult) (err error) {
	ctx, span := s.startSpan(ctx, "SaveChunk",
		attribute.Int64("xyfleet.configuration_id", task.ConfigurationID), attribute.Int("xyfleet.chunk_index", task.Index))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return ErrReadOnly
	}

	spinBlob := codec.EncodeFloats(spins)
	return s.inTx(ctx, "save_chunk", func(tx *sql.Tx) error {
		if err := s.releaseConfiguration(ctx, tx, task.ConfigurationID, " AND completed_chunks = ?", task.Index-1); err != nil {
			return err
		}

		var chunkID int64
		if err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO chunks (configuration_id, chunk_index, worker_id, start_time, end_time, spins)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING chunk_id`),
			task.ConfigurationID, task.Index, s.workerID, start.UnixMilli(), end.UnixMilli(), spinBlob,
		).Scan(&chunkID); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}

		for typ, r := range results {
			var acf any
			if r.Autocorrelation != nil {
				acf = codec.EncodeFloats(r.Autocorrelation)
			}
			if _, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO chunk_results (chunk_id, type_id, tau, samples, autocorrelation)
				VALUES (?, ?, ?, ?, ?)`),
				chunkID, int(typ), r.Tau, codec.EncodeFloats(r.Samples), acf,
			); err != nil {
				return fmt.Errorf("insert %s result: %w", typ, err)
			}
		}
		return nil
	})
}
