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

// ClaimNextEstimate leases a fully chunked configuration that lacks an
// estimate for one of its base observable types and returns that type with
// the concatenated samples of all chunks, in chunk order.
func (s *SQLStore) ClaimNextEstimate(ctx context.Context, simulationID int64) (req *model.EstimateRequest, err error) {
	ctx, span := s.startSpan(ctx, "ClaimNextEstimate", attribute.Int64("xyfleet.simulation_id", simulationID))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return nil, ErrReadOnly
	}

	err = s.inTx(ctx, "claim_estimate", func(tx *sql.Tx) error {
		req = nil

		var (
			r      model.EstimateRequest
			holder sql.NullString
		)
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT c.configuration_id, t.type_id, c.lattice_size, s.bootstrap_resamples, c.active_worker_id
			FROM configurations c
			INNER JOIN simulations s ON s.simulation_id = c.simulation_id
			INNER JOIN algorithm_metadata m ON m.metadata_id = c.metadata_id
			INNER JOIN observable_types t ON t.kind = 'base' AND (t.algorithm IS NULL OR t.algorithm = m.algorithm)
			LEFT JOIN estimates e ON e.configuration_id = c.configuration_id AND e.type_id = t.type_id
			LEFT JOIN workers w ON w.worker_id = c.active_worker_id
			WHERE c.simulation_id = ? AND c.completed_chunks >= m.num_chunks AND e.type_id IS NULL
				AND `+leaseAvailable+`
			ORDER BY c.lattice_size DESC, c.configuration_id ASC, t.type_id ASC
			LIMIT 1`+s.dialect.lockClause),
			simulationID, s.cutoff(),
		).Scan(&r.ConfigurationID, &r.Type, &r.LatticeSize, &r.BootstrapResamples, &holder)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next estimate: %w", err)
		}

		if err := s.takeConfiguration(ctx, tx, r.ConfigurationID, holder); err != nil {
			return err
		}

		if r.Samples, err = s.configurationSamples(ctx, tx, r.ConfigurationID, r.Type); err != nil {
			return err
		}
		req = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if req != nil {
		span.SetAttributes(attribute.Int64("xyfleet.configuration_id", req.ConfigurationID), attribute.String("xyfleet.type", req.Type.String()))
	}
	return req, nil
}

// configurationSamples concatenates the samples of one observable type over
// every chunk of a configuration, ordered by chunk index.
func (s *SQLStore) configurationSamples(ctx context.Context, tx *sql.Tx, configurationID int64, typ model.ObservableType) ([]float64, error) {
	rows, err := tx.QueryContext(ctx, s.q(`
		SELECT r.samples
		FROM chunks k
		INNER JOIN chunk_results r ON r.chunk_id = k.chunk_id AND r.type_id = ?
		WHERE k.configuration_id = ?
		ORDER BY k.chunk_index ASC`),
		int(typ), configurationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var blobs [][]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan samples: %w", err)
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	samples, err := codec.DecodeConcat(blobs)
	if err != nil {
		return nil, fmt.Errorf("decode %s samples of configuration %d: %w", typ, configurationID, err)
	}
	return samples, nil
}

// SaveEstimate persists a base or derived estimate and releases the
// configuration's lease. It returns ErrLeaseLost without writing if the lease
// was reclaimed.
func (s *SQLStore) SaveEstimate(ctx context.Context, r model.EstimateResult) (err error) {
	ctx, span := s.startSpan(ctx, "SaveEstimate",
		attribute.Int64("xyfleet.configuration_id", r.ConfigurationID), attribute.String("xyfleet.type", r.Type.String()))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return ErrReadOnly
	}

	return s.inTx(ctx, "save_estimate", func(tx *sql.Tx) error {
		if err := s.releaseConfiguration(ctx, tx, r.ConfigurationID, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO estimates (configuration_id, type_id, worker_id, start_time, end_time, mean, std_dev)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			r.ConfigurationID, int(r.Type), s.workerID, r.Start.UnixMilli(), r.End.UnixMilli(), r.Mean, r.StdDev,
		); err != nil {
			return fmt.Errorf("insert estimate: %w", err)
		}
		return nil
	})
}

// ClaimNextDerivative leases a configuration whose base and partner
// estimates for some derived type exist while the derived estimate does not.
func (s *SQLStore) ClaimNextDerivative(ctx context.Context, simulationID int64) (req *model.DerivativeRequest, err error) {
	ctx, span := s.startSpan(ctx, "ClaimNextDerivative", attribute.Int64("xyfleet.simulation_id", simulationID))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return nil, ErrReadOnly
	}

	err = s.inTx(ctx, "claim_derivative", func(tx *sql.Tx) error {
		req = nil

		var (
			r      model.DerivativeRequest
			target model.ObservableType
			holder sql.NullString
		)
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT c.configuration_id, t.type_id, c.lattice_size, c.temperature,
				b.mean, b.std_dev, p.mean, p.std_dev, c.active_worker_id
			FROM configurations c
			INNER JOIN observable_types t ON t.kind = 'derived'
			INNER JOIN estimates b ON b.configuration_id = c.configuration_id AND b.type_id = t.base_type_id
			INNER JOIN estimates p ON p.configuration_id = c.configuration_id AND p.type_id = t.partner_type_id
			LEFT JOIN estimates e ON e.configuration_id = c.configuration_id AND e.type_id = t.type_id
			LEFT JOIN workers w ON w.worker_id = c.active_worker_id
			WHERE c.simulation_id = ? AND e.type_id IS NULL AND `+leaseAvailable+`
			ORDER BY c.lattice_size DESC, c.configuration_id ASC, t.type_id ASC
			LIMIT 1`+s.dialect.lockClause),
			simulationID, s.cutoff(),
		).Scan(&r.ConfigurationID, &target, &r.LatticeSize, &r.Temperature,
			&r.Mean, &r.StdDev, &r.PartnerMean, &r.PartnerStdDev, &holder)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next derivative: %w", err)
		}

		d, ok := model.DerivationTo(target)
		if !ok {
			return fmt.Errorf("observable_types lists %s as derived but no derivation produces it", target)
		}
		r.Derivation = d

		if err := s.takeConfiguration(ctx, tx, r.ConfigurationID, holder); err != nil {
			return err
		}
		req = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if req != nil {
		span.SetAttributes(attribute.Int64("xyfleet.configuration_id", req.ConfigurationID), attribute.String("xyfleet.type", req.Derivation.Target.String()))
	}
	return req, nil
}
