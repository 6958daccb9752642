package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/storage"
)

var (
	_ storage.LaborMarketWriter = (*LaborMarketRepository)(nil)
	_ storage.LaborMarketReader = (*LaborMarketRepository)(nil)
)

type LaborMarketRepository struct {
	pool *pgxpool.Pool
}

func NewLaborMarketRepository(pool *pgxpool.Pool) *LaborMarketRepository {
	return &LaborMarketRepository{pool: pool}
}

// UpsertLaborMarket replaces every configured column and the project/token
// links. id and created_at are kept from the first insert. Run it inside
// WithinTransaction so the links are replaced atomically with the row.
func (r *LaborMarketRepository) UpsertLaborMarket(ctx context.Context, lm *labormarket.LaborMarket) error {
	const upsertSQL = `
		INSERT INTO labor_markets (
			id, address, title, description, type,
			submit_rep_min, submit_rep_max,
			reward_curve_address, review_badger_address, review_badger_token_id,
			launch_access, launch_badger_address, launch_badger_token_id,
			sponsor_address, uri, configured_tx_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (address) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			submit_rep_min = EXCLUDED.submit_rep_min,
			submit_rep_max = EXCLUDED.submit_rep_max,
			reward_curve_address = EXCLUDED.reward_curve_address,
			review_badger_address = EXCLUDED.review_badger_address,
			review_badger_token_id = EXCLUDED.review_badger_token_id,
			launch_access = EXCLUDED.launch_access,
			launch_badger_address = EXCLUDED.launch_badger_address,
			launch_badger_token_id = EXCLUDED.launch_badger_token_id,
			sponsor_address = EXCLUDED.sponsor_address,
			uri = EXCLUDED.uri,
			configured_tx_hash = EXCLUDED.configured_tx_hash
		RETURNING id::text, created_at
	`

	db := conn(ctx, r.pool)
	err := db.QueryRow(ctx, upsertSQL,
		uuid.NewString(), lm.Address, nullIfEmptyText(lm.Title), nullIfEmptyText(lm.Description), nullIfEmptyText(string(lm.Type)),
		lm.SubmitRepMin, lm.SubmitRepMax,
		nullIfEmptyText(lm.RewardCurveAddress), nullIfEmptyText(lm.ReviewBadgerAddress), nullIfEmptyText(lm.ReviewBadgerTokenID),
		nullIfEmptyText(string(lm.Launch.Access)), nullIfEmptyText(lm.Launch.BadgerAddress), nullIfEmptyText(lm.Launch.BadgerTokenID),
		nullIfEmptyText(lm.SponsorAddress), nullIfEmptyText(lm.URI), nullIfEmptyText(lm.ConfiguredTxHash),
	).Scan(&lm.ID, &lm.CreatedAt)
	if err != nil {
		return wrap("upsert labor market", err)
	}

	if err := replaceLinks(ctx, db, "labor_market_projects", "project_id", lm.Address, lm.ProjectIDs); err != nil {
		return err
	}
	return replaceLinks(ctx, db, "labor_market_tokens", "token_id", lm.Address, lm.TokenIDs)
}

func replaceLinks(ctx context.Context, db executor, table, column, address string, ids []string) error {
	if _, err := db.Exec(ctx, `DELETE FROM `+table+` WHERE labor_market_address = $1`, address); err != nil {
		return wrap("clear "+table, err)
	}
	if len(ids) == 0 {
		return nil
	}
	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (labor_market_address, %s)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, table, column)
	if _, err := db.Exec(ctx, insertSQL, address, ids); err != nil {
		return wrap("insert "+table, err)
	}
	return nil
}

const laborMarketColumns = `
	lm.id::text, lm.address,
	COALESCE(lm.title, ''), COALESCE(lm.description, ''), COALESCE(lm.type, ''),
	lm.submit_rep_min, lm.submit_rep_max,
	COALESCE(lm.reward_curve_address, ''), COALESCE(lm.review_badger_address, ''), COALESCE(lm.review_badger_token_id, ''),
	COALESCE(lm.launch_access, ''), COALESCE(lm.launch_badger_address, ''), COALESCE(lm.launch_badger_token_id, ''),
	COALESCE(lm.sponsor_address, ''), COALESCE(lm.uri, ''), COALESCE(lm.configured_tx_hash, ''),
	lm.created_at,
	COALESCE((SELECT array_agg(p.project_id ORDER BY p.project_id) FROM labor_market_projects p WHERE p.labor_market_address = lm.address), '{}'),
	COALESCE((SELECT array_agg(t.token_id ORDER BY t.token_id) FROM labor_market_tokens t WHERE t.labor_market_address = lm.address), '{}'),
	(SELECT COUNT(*) FROM service_requests sr WHERE sr.labor_market_address = lm.address) AS service_request_count
`

func scanLaborMarket(row pgx.Row) (*labormarket.LaborMarket, error) {
	var (
		lm           labormarket.LaborMarket
		lmType       string
		launchAccess string
	)
	err := row.Scan(
		&lm.ID, &lm.Address,
		&lm.Title, &lm.Description, &lmType,
		&lm.SubmitRepMin, &lm.SubmitRepMax,
		&lm.RewardCurveAddress, &lm.ReviewBadgerAddress, &lm.ReviewBadgerTokenID,
		&launchAccess, &lm.Launch.BadgerAddress, &lm.Launch.BadgerTokenID,
		&lm.SponsorAddress, &lm.URI, &lm.ConfiguredTxHash,
		&lm.CreatedAt,
		&lm.ProjectIDs, &lm.TokenIDs,
		&lm.ServiceRequestCount,
	)
	if err != nil {
		return nil, err
	}
	lm.Type = labormarket.Type(lmType)
	lm.Launch.Access = labormarket.LaunchAccess(launchAccess)
	if len(lm.ProjectIDs) == 0 {
		lm.ProjectIDs = nil
	}
	if len(lm.TokenIDs) == 0 {
		lm.TokenIDs = nil
	}
	return &lm, nil
}

func (r *LaborMarketRepository) FindLaborMarket(ctx context.Context, address string) (*labormarket.LaborMarket, error) {
	db := conn(ctx, r.pool)
	lm, err := scanLaborMarket(db.QueryRow(ctx, `SELECT `+laborMarketColumns+` FROM labor_markets lm WHERE lm.address = $1`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get labor market", err)
	}
	if err := r.attachProjects(ctx, db, []*labormarket.LaborMarket{lm}); err != nil {
		return nil, err
	}
	return lm, nil
}

func (r *LaborMarketRepository) SearchLaborMarkets(ctx context.Context, params labormarket.Search) ([]*labormarket.LaborMarket, error) {
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	where, args := laborMarketFilter(params)
	args = append(args, params.First, params.Offset())
	query := fmt.Sprintf(`SELECT %s FROM labor_markets lm %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		laborMarketColumns, where, laborMarketOrder(params), len(args)-1, len(args))

	db := conn(ctx, r.pool)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("search labor markets", err)
	}
	defer rows.Close()

	out := []*labormarket.LaborMarket{}
	for rows.Next() {
		lm, err := scanLaborMarket(rows)
		if err != nil {
			return nil, wrap("scan labor market", err)
		}
		out = append(out, lm)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("search labor markets", err)
	}

	if err := r.attachProjects(ctx, db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LaborMarketRepository) CountLaborMarkets(ctx context.Context, params labormarket.Search) (int, error) {
	if err := params.Normalize(); err != nil {
		return 0, err
	}
	where, args := laborMarketFilter(params)
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM labor_markets lm `+where, args...).Scan(&total); err != nil {
		return 0, wrap("count labor markets", err)
	}
	return total, nil
}

// PutProject upserts a project reference row.
func (r *LaborMarketRepository) PutProject(ctx context.Context, p labormarket.Project) error {
	const sql = `
		INSERT INTO projects (id, slug, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, name = EXCLUDED.name
	`
	if _, err := conn(ctx, r.pool).Exec(ctx, sql, p.ID, p.Slug, p.Name); err != nil {
		return wrap("upsert project", err)
	}
	return nil
}

// PutToken upserts a token reference row.
func (r *LaborMarketRepository) PutToken(ctx context.Context, t labormarket.Token) error {
	const sql = `
		INSERT INTO tokens (id, symbol, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET symbol = EXCLUDED.symbol, name = EXCLUDED.name
	`
	if _, err := conn(ctx, r.pool).Exec(ctx, sql, t.ID, t.Symbol, t.Name); err != nil {
		return wrap("upsert token", err)
	}
	return nil
}

func (r *LaborMarketRepository) attachProjects(ctx context.Context, db executor, lms []*labormarket.LaborMarket) error {
	if len(lms) == 0 {
		return nil
	}
	byAddress := make(map[string]*labormarket.LaborMarket, len(lms))
	addresses := make([]string, 0, len(lms))
	for _, lm := range lms {
		byAddress[lm.Address] = lm
		addresses = append(addresses, lm.Address)
	}

	const sql = `
		SELECT l.labor_market_address, p.id, p.slug, p.name
		FROM labor_market_projects l
		JOIN projects p ON p.id = l.project_id
		WHERE l.labor_market_address = ANY($1)
		ORDER BY l.labor_market_address, p.id
	`
	rows, err := db.Query(ctx, sql, addresses)
	if err != nil {
		return wrap("load labor market projects", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			address string
			p       labormarket.Project
		)
		if err := rows.Scan(&address, &p.ID, &p.Slug, &p.Name); err != nil {
			return wrap("scan project", err)
		}
		if lm, ok := byAddress[address]; ok {
			lm.Projects = append(lm.Projects, p)
		}
	}
	return wrap("load labor market projects", rows.Err())
}

// laborMarketFilter returns the WHERE clause for params and its positional
// arguments, numbered from $1.
func laborMarketFilter(params labormarket.Search) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Type != "" {
		conds = append(conds, "lm.type = "+arg(string(params.Type)))
	}
	if q := strings.TrimSpace(params.Q); q != "" {
		p := arg(likePattern(q))
		conds = append(conds, fmt.Sprintf("(lm.title ILIKE %s OR lm.description ILIKE %s)", p, p))
	}
	if len(params.Token) > 0 {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM labor_market_tokens lt JOIN tokens t ON t.id = lt.token_id
			WHERE lt.labor_market_address = lm.address AND t.symbol = ANY(`+arg(params.Token)+`))`)
	}
	if len(params.Project) > 0 {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM labor_market_projects lp JOIN projects p ON p.id = lp.project_id
			WHERE lp.labor_market_address = lm.address AND p.slug = ANY(`+arg(params.Project)+`))`)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func laborMarketOrder(params labormarket.Search) string {
	key := "COALESCE(lm.title, '')"
	switch params.SortBy {
	case labormarket.SortByCreatedAt:
		key = "lm.created_at"
	case labormarket.SortByServiceRequests:
		key = "service_request_count"
	}
	return key + " " + sqlDirection(string(params.Order)) + ", lm.address ASC"
}

func sqlDirection(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
