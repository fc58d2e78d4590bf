// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reviewlog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS review_log (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT        NOT NULL,
    from_status TEXT        NOT NULL,
    to_status   TEXT        NOT NULL,
    reviewer    TEXT        NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_review_log_session ON review_log (session_id, id);
`

// pgStore PostgreSQL 实现
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的审计日志；建表幂等
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// Close 关闭连接池（可选，用于优雅退出）
func (s *pgStore) Close() {
	s.pool.Close()
}

func (s *pgStore) Append(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_log (session_id, from_status, to_status, reviewer) VALUES ($1, $2, $3, $4)`,
		e.SessionID, e.From, e.To, e.Reviewer)
	return err
}

func (s *pgStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, from_status, to_status, reviewer, created_at FROM review_log WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.From, &e.To, &e.Reviewer, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
