package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/idopools/sale-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Round and MetaIDO IDs come from BIGSERIAL sequences, so assignment is
// atomic with row creation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const roundColumns = `id, start_time, end_time, initial_end_time, claimable_time,
       initial_claimable_time, finalized, has_whitelist, parent_meta_ido,
       sale_token, ido_token_decimals, primary_token, secondary_token,
       ido_price::TEXT, ido_size::TEXT, min_funding_goal::TEXT,
       funded_usd_value::TEXT, secondary_cap_bps,
       funded_primary::TEXT, funded_secondary::TEXT, created_at`

func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rounds (start_time, end_time, initial_end_time, claimable_time,
		        initial_claimable_time, finalized, has_whitelist, parent_meta_ido,
		        sale_token, ido_token_decimals, primary_token, secondary_token,
		        ido_price, ido_size, min_funding_goal, funded_usd_value,
		        secondary_cap_bps, funded_primary, funded_secondary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		         $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC,
		         $17, $18::NUMERIC, $19::NUMERIC, $20)
		 RETURNING id`,
		r.StartTime, r.EndTime, r.InitialEndTime, r.ClaimableTime,
		r.InitialClaimableTime, r.Finalized, r.HasWhitelist, int64(r.ParentMetaIDO),
		r.SaleToken, r.IDOTokenDecimals, r.PrimaryToken, r.SecondaryToken,
		r.IDOPrice.String(), r.IDOSize.String(), r.MinFundingGoal.String(),
		r.FundedUSDValue.String(), r.SecondaryCapBps,
		r.FundedPrimary.String(), r.FundedSecondary.String(), r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create round: %w", err)
	}
	r.ID = uint64(id)
	return r.ID, nil
}

// pgxRow is the subset of pgx row scanning shared by QueryRow and Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanRound(row pgxRow) (*model.Round, error) {
	var r model.Round
	var id, parentMeta int64
	var price, size, goal, funded, fundedPrimary, fundedSecondary string

	err := row.Scan(&id, &r.StartTime, &r.EndTime, &r.InitialEndTime, &r.ClaimableTime,
		&r.InitialClaimableTime, &r.Finalized, &r.HasWhitelist, &parentMeta,
		&r.SaleToken, &r.IDOTokenDecimals, &r.PrimaryToken, &r.SecondaryToken,
		&price, &size, &goal, &funded, &r.SecondaryCapBps,
		&fundedPrimary, &fundedSecondary, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.ID = uint64(id)
	r.ParentMetaIDO = uint64(parentMeta)
	r.IDOPrice, _ = decimal.NewFromString(price)
	r.IDOSize, _ = decimal.NewFromString(size)
	r.MinFundingGoal, _ = decimal.NewFromString(goal)
	r.FundedUSDValue, _ = decimal.NewFromString(funded)
	r.FundedPrimary, _ = decimal.NewFromString(fundedPrimary)
	r.FundedSecondary, _ = decimal.NewFromString(fundedSecondary)
	return &r, nil
}

func (s *PostgresStore) GetRound(ctx context.Context, id uint64) (*model.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, int64(id))
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRound(ctx context.Context, r *model.Round) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds
		 SET end_time = $2, claimable_time = $3, finalized = $4,
		     has_whitelist = $5, parent_meta_ido = $6,
		     ido_size = $7::NUMERIC, funded_usd_value = $8::NUMERIC,
		     secondary_cap_bps = $9,
		     funded_primary = $10::NUMERIC, funded_secondary = $11::NUMERIC
		 WHERE id = $1`,
		int64(r.ID), r.EndTime, r.ClaimableTime, r.Finalized,
		r.HasWhitelist, int64(r.ParentMetaIDO),
		r.IDOSize.String(), r.FundedUSDValue.String(),
		r.SecondaryCapBps,
		r.FundedPrimary.String(), r.FundedSecondary.String(),
	)
	if err != nil {
		return fmt.Errorf("update round %d: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, r.ID)
	}
	return nil
}

func (s *PostgresStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

func (s *PostgresStore) SetWhitelisted(ctx context.Context, roundID uint64, addrs []string, add bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, addr := range addrs {
		if add {
			_, err = tx.Exec(ctx,
				`INSERT INTO round_whitelist (round_id, participant)
				 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				int64(roundID), addr)
		} else {
			_, err = tx.Exec(ctx,
				`DELETE FROM round_whitelist WHERE round_id = $1 AND participant = $2`,
				int64(roundID), addr)
		}
		if err != nil {
			return fmt.Errorf("whitelist round %d: %w", roundID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) IsWhitelisted(ctx context.Context, roundID uint64, addr string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM round_whitelist WHERE round_id = $1 AND participant = $2)`,
		int64(roundID), addr).Scan(&exists)
	return exists, err
}

// RecordContribution writes the round totals and the position in one
// transaction: both land or neither does.
func (s *PostgresStore) RecordContribution(ctx context.Context, r *model.Round, pos *model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rounds
		 SET funded_primary = $2::NUMERIC, funded_secondary = $3::NUMERIC,
		     funded_usd_value = $4::NUMERIC
		 WHERE id = $1`,
		int64(r.ID), r.FundedPrimary.String(), r.FundedSecondary.String(),
		r.FundedUSDValue.String(),
	)
	if err != nil {
		return fmt.Errorf("record contribution round %d: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRoundNotFound, r.ID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (round_id, participant, amount, secondary_amount, token_allocation)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (round_id, participant) DO UPDATE
		 SET amount = EXCLUDED.amount,
		     secondary_amount = EXCLUDED.secondary_amount,
		     token_allocation = EXCLUDED.token_allocation`,
		int64(pos.RoundID), pos.Participant,
		pos.Amount.String(), pos.SecondaryAmount.String(), pos.TokenAllocation.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPosition(ctx context.Context, roundID uint64, participant string) (*model.Position, error) {
	var p model.Position
	var id int64
	var amount, secondary, alloc string

	err := s.pool.QueryRow(ctx,
		`SELECT round_id, participant, amount::TEXT, secondary_amount::TEXT, token_allocation::TEXT
		 FROM positions WHERE round_id = $1 AND participant = $2`,
		int64(roundID), participant).
		Scan(&id, &p.Participant, &amount, &secondary, &alloc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round %d participant %s", ErrPositionNotFound, roundID, participant)
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}

	p.RoundID = uint64(id)
	p.Amount, _ = decimal.NewFromString(amount)
	p.SecondaryAmount, _ = decimal.NewFromString(secondary)
	p.TokenAllocation, _ = decimal.NewFromString(alloc)
	return &p, nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, roundID uint64, participant string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE round_id = $1 AND participant = $2`,
		int64(roundID), participant)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %d participant %s", ErrPositionNotFound, roundID, participant)
	}
	return nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (round_id, participant, amount, secondary_amount, token_allocation)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (round_id, participant) DO UPDATE
		 SET amount = EXCLUDED.amount,
		     secondary_amount = EXCLUDED.secondary_amount,
		     token_allocation = EXCLUDED.token_allocation`,
		int64(pos.RoundID), pos.Participant,
		pos.Amount.String(), pos.SecondaryAmount.String(), pos.TokenAllocation.String(),
	)
	return err
}

func (s *PostgresStore) CreateMetaIDO(ctx context.Context, m *model.MetaIDO) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO meta_idos (round_ids) VALUES ($1) RETURNING id`,
		toInt64s(m.RoundIDs)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create meta ido: %w", err)
	}
	m.ID = uint64(id)
	return m.ID, nil
}

func (s *PostgresStore) GetMetaIDO(ctx context.Context, id uint64) (*model.MetaIDO, error) {
	var m model.MetaIDO
	var mid int64
	var roundIDs []int64

	err := s.pool.QueryRow(ctx,
		`SELECT id, round_ids FROM meta_idos WHERE id = $1`, int64(id)).
		Scan(&mid, &roundIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrMetaIDONotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get meta ido %d: %w", id, err)
	}

	m.ID = uint64(mid)
	m.RoundIDs = toUint64s(roundIDs)
	return &m, nil
}

func (s *PostgresStore) UpdateMetaIDO(ctx context.Context, m *model.MetaIDO) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE meta_idos SET round_ids = $2 WHERE id = $1`,
		int64(m.ID), toInt64s(m.RoundIDs))
	if err != nil {
		return fmt.Errorf("update meta ido %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrMetaIDONotFound, m.ID)
	}
	return nil
}

func (s *PostgresStore) SetRegistration(ctx context.Context, reg *model.Registration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meta_registrations (meta_ido_id, participant, rank, multiplier)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (meta_ido_id, participant) DO UPDATE
		 SET rank = EXCLUDED.rank, multiplier = EXCLUDED.multiplier`,
		int64(reg.MetaIDOID), reg.Participant, int64(reg.Rank), reg.Multiplier.String(),
	)
	return err
}

func (s *PostgresStore) GetRegistration(ctx context.Context, metaID uint64, participant string) (*model.Registration, error) {
	var reg model.Registration
	var mid, rank int64
	var multiplier string

	err := s.pool.QueryRow(ctx,
		`SELECT meta_ido_id, participant, rank, multiplier::TEXT
		 FROM meta_registrations WHERE meta_ido_id = $1 AND participant = $2`,
		int64(metaID), participant).
		Scan(&mid, &reg.Participant, &rank, &multiplier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: meta %d participant %s", ErrRegistrationNotFound, metaID, participant)
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}

	reg.MetaIDOID = uint64(mid)
	reg.Rank = uint32(rank)
	reg.Multiplier, _ = decimal.NewFromString(multiplier)
	return &reg, nil
}

func (s *PostgresStore) SetRoundSpec(ctx context.Context, spec *model.RoundSpec) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO round_specs (round_id, min_rank, max_rank, no_rank,
		        max_alloc, max_alloc_multiplier, no_multiplier)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (round_id) DO UPDATE
		 SET min_rank = EXCLUDED.min_rank, max_rank = EXCLUDED.max_rank,
		     no_rank = EXCLUDED.no_rank, max_alloc = EXCLUDED.max_alloc,
		     max_alloc_multiplier = EXCLUDED.max_alloc_multiplier,
		     no_multiplier = EXCLUDED.no_multiplier`,
		int64(spec.RoundID), int64(spec.MinRank), int64(spec.MaxRank), spec.NoRank,
		spec.MaxAlloc.String(), spec.MaxAllocMultiplier.String(), spec.NoMultiplier,
	)
	return err
}

func (s *PostgresStore) GetRoundSpec(ctx context.Context, roundID uint64) (*model.RoundSpec, error) {
	var spec model.RoundSpec
	var id, minRank, maxRank int64
	var maxAlloc, multiplier string

	err := s.pool.QueryRow(ctx,
		`SELECT round_id, min_rank, max_rank, no_rank,
		        max_alloc::TEXT, max_alloc_multiplier::TEXT, no_multiplier
		 FROM round_specs WHERE round_id = $1`, int64(roundID)).
		Scan(&id, &minRank, &maxRank, &spec.NoRank, &maxAlloc, &multiplier, &spec.NoMultiplier)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.RoundSpec{RoundID: roundID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get round spec %d: %w", roundID, err)
	}

	spec.RoundID = uint64(id)
	spec.MinRank = uint32(minRank)
	spec.MaxRank = uint32(maxRank)
	spec.MaxAlloc, _ = decimal.NewFromString(maxAlloc)
	spec.MaxAllocMultiplier, _ = decimal.NewFromString(multiplier)
	spec.Initialized = true
	return &spec, nil
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toUint64s(ids []int64) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}
