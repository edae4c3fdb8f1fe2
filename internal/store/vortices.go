package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/xyfleet/internal/codec"
	"github.com/seantiz/xyfleet/internal/model"
)

// ClaimNextVortex leases a vortex job that has no snapshots yet.
func (s *SQLStore) ClaimNextVortex(ctx context.Context, simulationID int64) (job *model.VortexJob, err error) {
	ctx, span := s.startSpan(ctx, "ClaimNextVortex", attribute.Int64("xyfleet.simulation_id", simulationID))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return nil, ErrReadOnly
	}

	err = s.inTx(ctx, "claim_vortex", func(tx *sql.Tx) error {
		job = nil

		var (
			j      model.VortexJob
			holder sql.NullString
		)
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT c.vortex_id, c.lattice_size, c.active_worker_id
			FROM vortex_jobs c
			LEFT JOIN workers w ON w.worker_id = c.active_worker_id
			WHERE c.simulation_id = ? AND `+leaseAvailable+`
				AND NOT EXISTS (SELECT 1 FROM vortex_snapshots v WHERE v.vortex_id = c.vortex_id)
			ORDER BY c.lattice_size DESC
			LIMIT 1`+s.dialect.lockClause),
			simulationID, s.cutoff(),
		).Scan(&j.ID, &j.LatticeSize, &holder)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next vortex: %w", err)
		}

		guard, guardArgs := leaseGuard(holder)
		res, err := tx.ExecContext(ctx, s.q(
			"UPDATE vortex_jobs SET active_worker_id = ? WHERE vortex_id = ? AND "+guard),
			append([]any{s.workerID, j.ID}, guardArgs...)...)
		if err != nil {
			return fmt.Errorf("lease vortex %d: %w", j.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		} else if n != 1 {
			return errClaimRaced
		}
		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SaveVortexSnapshots stores the anneal snapshots of a vortex job and
// releases its lease. It returns ErrLeaseLost if the job was reclaimed.
func (s *SQLStore) SaveVortexSnapshots(ctx context.Context, vortexID int64, snapshots []model.VortexSnapshot) (err error) {
	ctx, span := s.startSpan(ctx, "SaveVortexSnapshots",
		attribute.Int64("xyfleet.vortex_id", vortexID), attribute.Int("xyfleet.snapshots", len(snapshots)))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return ErrReadOnly
	}

	return s.inTx(ctx, "save_vortex", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			"UPDATE vortex_jobs SET active_worker_id = NULL WHERE vortex_id = ? AND active_worker_id = ?"),
			vortexID, s.workerID)
		if err != nil {
			return fmt.Errorf("release vortex %d: %w", vortexID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		} else if n != 1 {
			return ErrLeaseLost
		}

		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO vortex_snapshots (vortex_id, sweeps, temperature, spins) VALUES (?, ?, ?, ?)
			ON CONFLICT (vortex_id, sweeps) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, snap := range snapshots {
			if _, err := stmt.ExecContext(ctx, vortexID, snap.Sweeps, snap.Temperature, codec.EncodeFloats(snap.Spins)); err != nil {
				return fmt.Errorf("insert snapshot at sweep %d: %w", snap.Sweeps, err)
			}
		}
		return nil
	})
}
