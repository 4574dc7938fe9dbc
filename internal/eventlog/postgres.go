package eventlog

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"microgrid_simulator/internal/model"
)

// Postgres persists the audit log in the events and auction_results tables.
// Writes are fire-and-forget: a failed insert is logged and the round keeps
// going.
type Postgres struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	timestamp DOUBLE PRECISION,
	kind TEXT,
	agent TEXT,
	kwh DOUBLE PRECISION,
	price DOUBLE PRECISION,
	round_id BIGINT
);
CREATE TABLE IF NOT EXISTS auction_results (
	id BIGSERIAL PRIMARY KEY,
	round_id BIGINT,
	buyer TEXT,
	seller TEXT,
	kwh DOUBLE PRECISION,
	price DOUBLE PRECISION,
	timestamp DOUBLE PRECISION
);
`

// NewPostgres connects to connString and ensures the schema exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) LogEvent(kind string, agent model.ParticipantID, kwh, price float64, round model.RoundID) {
	_, err := p.pool.Exec(context.Background(),
		`INSERT INTO events (timestamp, kind, agent, kwh, price, round_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		float64(time.Now().UnixNano())/1e9, kind, string(agent), kwh, price, int64(round),
	)
	if err != nil {
		log.Printf("eventlog: insert event %s: %v", kind, err)
	}
}

func (p *Postgres) LogAuction(round model.RoundID, buyer, seller model.ParticipantID, kwh, price float64) {
	_, err := p.pool.Exec(context.Background(),
		`INSERT INTO auction_results (round_id, buyer, seller, kwh, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(round), string(buyer), string(seller), kwh, price,
		float64(time.Now().UnixNano())/1e9,
	)
	if err != nil {
		log.Printf("eventlog: insert auction result: %v", err)
	}
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
