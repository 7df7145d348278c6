package texts

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads race texts from a race_texts table. The schema is one line:
//
//	CREATE TABLE race_texts (id BIGSERIAL PRIMARY KEY, body TEXT NOT NULL);
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect texts store: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) RandomText(ctx context.Context) (Text, error) {
	var body string
	err := p.pool.QueryRow(ctx,
		`SELECT body FROM race_texts ORDER BY random() LIMIT 1`,
	).Scan(&body)
	if err != nil {
		return Text{}, fmt.Errorf("random text: %w", err)
	}
	return New(body), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
