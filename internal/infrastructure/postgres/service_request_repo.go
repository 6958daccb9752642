package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/storage"
)

var (
	_ storage.ServiceRequestWriter = (*ServiceRequestRepository)(nil)
	_ storage.ServiceRequestReader = (*ServiceRequestRepository)(nil)
)

type ServiceRequestRepository struct {
	pool *pgxpool.Pool
}

func NewServiceRequestRepository(pool *pgxpool.Pool) *ServiceRequestRepository {
	return &ServiceRequestRepository{pool: pool}
}

// UpsertServiceRequestCreation touches only the creation-owned columns.
func (r *ServiceRequestRepository) UpsertServiceRequestCreation(ctx context.Context, w servicerequest.CreationWrite) error {
	const sql = `
		INSERT INTO service_requests (
			id, labor_market_address, internal_id,
			title, description, uri, requester_address,
			p_token_address, p_token_quantity,
			signal_expiration, submission_expiration, enforcement_expiration,
			created_tx_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (labor_market_address, internal_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			uri = EXCLUDED.uri,
			requester_address = EXCLUDED.requester_address,
			p_token_address = EXCLUDED.p_token_address,
			p_token_quantity = EXCLUDED.p_token_quantity,
			signal_expiration = EXCLUDED.signal_expiration,
			submission_expiration = EXCLUDED.submission_expiration,
			enforcement_expiration = EXCLUDED.enforcement_expiration,
			created_tx_hash = EXCLUDED.created_tx_hash
	`
	c := w.Creation
	_, err := conn(ctx, r.pool).Exec(ctx, sql,
		uuid.NewString(), w.LaborMarketAddress, w.InternalID,
		nullIfEmptyText(c.Title), nullIfEmptyText(c.Description), nullIfEmptyText(c.URI), nullIfEmptyText(c.RequesterAddress),
		nullIfEmptyText(c.PTokenAddress), nullIfEmptyText(c.PTokenQuantity),
		c.SignalExpiration, c.SubmissionExpiration, c.EnforcementExpiration,
		nullIfEmptyText(c.CreatedTxHash),
	)
	return wrap("upsert service request creation", err)
}

// UpsertServiceRequestFulfillment touches only the fulfillment-owned
// columns, inserting a placeholder row when the request is not known yet.
func (r *ServiceRequestRepository) UpsertServiceRequestFulfillment(ctx context.Context, w servicerequest.FulfillmentWrite) error {
	const sql = `
		INSERT INTO service_requests (
			id, labor_market_address, internal_id,
			outcome, fulfiller_address, fulfilled_submission_id, fulfilled_tx_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (labor_market_address, internal_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			fulfiller_address = EXCLUDED.fulfiller_address,
			fulfilled_submission_id = EXCLUDED.fulfilled_submission_id,
			fulfilled_tx_hash = EXCLUDED.fulfilled_tx_hash
	`
	f := w.Fulfillment
	_, err := conn(ctx, r.pool).Exec(ctx, sql,
		uuid.NewString(), w.LaborMarketAddress, w.InternalID,
		nullIfEmptyText(f.Outcome), nullIfEmptyText(f.FulfillerAddress), nullIfEmptyText(f.FulfilledSubmissionID), nullIfEmptyText(f.FulfilledTxHash),
	)
	return wrap("upsert service request fulfillment", err)
}

const serviceRequestColumns = `
	sr.id::text, sr.labor_market_address, sr.internal_id,
	COALESCE(sr.title, ''), COALESCE(sr.description, ''), COALESCE(sr.uri, ''), COALESCE(sr.requester_address, ''),
	COALESCE(sr.p_token_address, ''), COALESCE(sr.p_token_quantity, ''),
	sr.signal_expiration, sr.submission_expiration, sr.enforcement_expiration,
	COALESCE(sr.created_tx_hash, ''),
	COALESCE(sr.outcome, ''), COALESCE(sr.fulfiller_address, ''), COALESCE(sr.fulfilled_submission_id, ''), COALESCE(sr.fulfilled_tx_hash, ''),
	sr.created_at
`

func scanServiceRequest(row pgx.Row) (*servicerequest.ServiceRequest, error) {
	var sr servicerequest.ServiceRequest
	err := row.Scan(
		&sr.ID, &sr.LaborMarketAddress, &sr.InternalID,
		&sr.Title, &sr.Description, &sr.URI, &sr.RequesterAddress,
		&sr.PTokenAddress, &sr.PTokenQuantity,
		&sr.SignalExpiration, &sr.SubmissionExpiration, &sr.EnforcementExpiration,
		&sr.CreatedTxHash,
		&sr.Outcome, &sr.FulfillerAddress, &sr.FulfilledSubmissionID, &sr.FulfilledTxHash,
		&sr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

func (r *ServiceRequestRepository) FindServiceRequest(ctx context.Context, key servicerequest.Key) (*servicerequest.ServiceRequest, error) {
	const sql = `SELECT ` + serviceRequestColumns + ` FROM service_requests sr WHERE sr.labor_market_address = $1 AND sr.internal_id = $2`
	sr, err := scanServiceRequest(conn(ctx, r.pool).QueryRow(ctx, sql, key.LaborMarketAddress, key.InternalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get service request", err)
	}
	return sr, nil
}

func (r *ServiceRequestRepository) SearchServiceRequests(ctx context.Context, params servicerequest.Search) ([]*servicerequest.ServiceRequest, error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	if params.LaborMarket != "" {
		args = append(args, params.LaborMarket)
		conds = append(conds, fmt.Sprintf("sr.labor_market_address = $%d", len(args)))
	}
	if q := strings.TrimSpace(params.Q); q != "" {
		args = append(args, likePattern(q))
		conds = append(conds, fmt.Sprintf("(sr.title ILIKE $%d OR sr.description ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	key := "COALESCE(sr.title, '')"
	if params.SortBy == "createdAt" {
		key = "sr.created_at"
	}
	args = append(args, params.First, params.Offset())
	query := fmt.Sprintf(`SELECT %s FROM service_requests sr %s ORDER BY %s %s, sr.labor_market_address ASC, sr.internal_id ASC LIMIT $%d OFFSET $%d`,
		serviceRequestColumns, where, key, sqlDirection(string(params.Order)), len(args)-1, len(args))

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("search service requests", err)
	}
	defer rows.Close()

	out := []*servicerequest.ServiceRequest{}
	for rows.Next() {
		sr, err := scanServiceRequest(rows)
		if err != nil {
			return nil, wrap("scan service request", err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("search service requests", err)
	}
	return out, nil
}
