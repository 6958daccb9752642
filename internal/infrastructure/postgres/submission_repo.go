package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/storage"
)

var (
	_ storage.SubmissionWriter = (*SubmissionRepository)(nil)
	_ storage.SubmissionReader = (*SubmissionRepository)(nil)
)

type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) UpsertSubmission(ctx context.Context, s *submission.Submission) error {
	const sql = `
		INSERT INTO submissions (
			id, internal_id, labor_market_address, service_request_id,
			title, description, uri, creator_address, tx_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (labor_market_address, internal_id) DO UPDATE SET
			service_request_id = EXCLUDED.service_request_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			uri = EXCLUDED.uri,
			creator_address = EXCLUDED.creator_address,
			tx_hash = EXCLUDED.tx_hash
		RETURNING id::text, created_at
	`
	err := conn(ctx, r.pool).QueryRow(ctx, sql,
		uuid.NewString(), s.InternalID, s.LaborMarketAddress, s.ServiceRequestID,
		nullIfEmptyText(s.Title), nullIfEmptyText(s.Description), nullIfEmptyText(s.URI),
		nullIfEmptyText(s.CreatorAddress), nullIfEmptyText(s.TxHash),
	).Scan(&s.ID, &s.CreatedAt)
	return wrap("upsert submission", err)
}

func (r *SubmissionRepository) UpsertReview(ctx context.Context, rv *submission.Review) error {
	const sql = `
		INSERT INTO reviews (
			id, labor_market_address, submission_id, reviewer_address,
			request_id, score, tx_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (labor_market_address, submission_id, reviewer_address) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			score = EXCLUDED.score,
			tx_hash = EXCLUDED.tx_hash
		RETURNING id::text, created_at
	`
	err := conn(ctx, r.pool).QueryRow(ctx, sql,
		uuid.NewString(), rv.LaborMarketAddress, rv.SubmissionID, rv.ReviewerAddress,
		nullIfEmptyText(rv.RequestID), rv.Score, nullIfEmptyText(rv.TxHash),
	).Scan(&rv.ID, &rv.CreatedAt)
	return wrap("upsert review", err)
}

const submissionColumns = `
	s.id::text, s.internal_id, s.labor_market_address, s.service_request_id,
	COALESCE(s.title, ''), COALESCE(s.description, ''), COALESCE(s.uri, ''),
	COALESCE(s.creator_address, ''), COALESCE(s.tx_hash, ''),
	s.created_at
`

func scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var s submission.Submission
	err := row.Scan(
		&s.ID, &s.InternalID, &s.LaborMarketAddress, &s.ServiceRequestID,
		&s.Title, &s.Description, &s.URI,
		&s.CreatorAddress, &s.TxHash,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Reviews = []submission.Review{}
	return &s, nil
}

func (r *SubmissionRepository) FindSubmission(ctx context.Context, laborMarketAddress, internalID string) (*submission.Submission, error) {
	const sql = `SELECT ` + submissionColumns + ` FROM submissions s WHERE s.labor_market_address = $1 AND s.internal_id = $2`
	db := conn(ctx, r.pool)
	s, err := scanSubmission(db.QueryRow(ctx, sql, laborMarketAddress, internalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get submission", err)
	}
	if err := attachReviews(ctx, db, []*submission.Submission{s}); err != nil {
		return nil, err
	}
	return s, nil
}

var submissionSortKeys = map[submission.SortBy]string{
	submission.SortByTitle:       "COALESCE(s.title, '')",
	submission.SortByDescription: "COALESCE(s.description, '')",
	submission.SortByCreatedAt:   "s.created_at",
	submission.SortByReviews:     "(SELECT COUNT(*) FROM reviews rv WHERE rv.labor_market_address = s.labor_market_address AND rv.submission_id = s.internal_id)",
	submission.SortByCreatorID:   "COALESCE(s.creator_address, '')",
}

func (r *SubmissionRepository) SearchSubmissions(ctx context.Context, params submission.Search) ([]*submission.Submission, error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	if params.LaborMarketAddress != "" {
		args = append(args, params.LaborMarketAddress)
		conds = append(conds, fmt.Sprintf("s.labor_market_address = $%d", len(args)))
	}
	if params.ServiceRequestID != "" {
		args = append(args, params.ServiceRequestID)
		conds = append(conds, fmt.Sprintf("s.service_request_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(params.Q); q != "" {
		args = append(args, likePattern(q))
		conds = append(conds, fmt.Sprintf("(s.title ILIKE $%d OR s.description ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, params.First, params.Offset())
	query := fmt.Sprintf(`SELECT %s FROM submissions s %s ORDER BY %s %s, s.labor_market_address ASC, s.internal_id ASC LIMIT $%d OFFSET $%d`,
		submissionColumns, where, submissionSortKeys[params.SortBy], sqlDirection(string(params.Order)), len(args)-1, len(args))

	db := conn(ctx, r.pool)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("search submissions", err)
	}
	defer rows.Close()

	out := []*submission.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, wrap("scan submission", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("search submissions", err)
	}

	if err := attachReviews(ctx, db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func attachReviews(ctx context.Context, db executor, subs []*submission.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	type key struct{ lm, id string }
	byKey := make(map[key]*submission.Submission, len(subs))
	markets := make([]string, 0, len(subs))
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		byKey[key{s.LaborMarketAddress, s.InternalID}] = s
		markets = append(markets, s.LaborMarketAddress)
		ids = append(ids, s.InternalID)
	}

	const sql = `
		SELECT rv.id::text, rv.labor_market_address, rv.submission_id, rv.reviewer_address,
			COALESCE(rv.request_id, ''), rv.score, COALESCE(rv.tx_hash, ''), rv.created_at
		FROM reviews rv
		JOIN unnest($1::text[], $2::text[]) AS k(labor_market_address, submission_id)
			ON k.labor_market_address = rv.labor_market_address AND k.submission_id = rv.submission_id
		ORDER BY rv.reviewer_address
	`
	rows, err := db.Query(ctx, sql, markets, ids)
	if err != nil {
		return wrap("load reviews", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rv submission.Review
		if err := rows.Scan(&rv.ID, &rv.LaborMarketAddress, &rv.SubmissionID, &rv.ReviewerAddress,
			&rv.RequestID, &rv.Score, &rv.TxHash, &rv.CreatedAt); err != nil {
			return wrap("scan review", err)
		}
		if s, ok := byKey[key{rv.LaborMarketAddress, rv.SubmissionID}]; ok {
			s.Reviews = append(s.Reviews, rv)
		}
	}
	return wrap("load reviews", rows.Err())
}
