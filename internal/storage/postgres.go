package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresTier はPostgreSQLのkv_entriesテーブルに保存する永続Tier。
// スコープはブラウザプロファイルIDを想定している。
type PostgresTier struct {
	db *sql.DB
}

// NewPostgresTier はPostgresTierを生成する。
func NewPostgresTier(db *sql.DB) *PostgresTier {
	return &PostgresTier{db: db}
}

// Scope は指定スコープに閉じたStoreを返す。
func (t *PostgresTier) Scope(name string) Store {
	return &postgresStore{db: t.db, scope: name}
}

const (
	selectEntryQuery = `SELECT value FROM kv_entries WHERE scope = $1 AND key = $2`
	upsertEntryQuery = `INSERT INTO kv_entries (scope, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (scope, key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	// 行が未作成でも直列化できるよう、スコープとキーのハッシュでアドバイザリロックを取る
	lockEntryQuery = `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`
)

type postgresStore struct {
	db    *sql.DB
	scope string
}

// Get は指定キーの値を取得する。見つからない場合はfalseを返す。
func (s *postgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, selectEntryQuery, s.scope, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get kv entry: %w", err)
	}
	return value, true, nil
}

// Set は値を冪等にUPSERTする。
func (s *postgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, upsertEntryQuery, s.scope, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

// Update はトランザクション内でロックを取得してから読み取りと書き込みを行う。
// 複数のAPIインスタンスからの更新も直列化される。
func (s *postgresStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin kv transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lockEntryQuery, s.scope, key); err != nil {
		return fmt.Errorf("failed to lock kv entry: %w", err)
	}

	var current string
	ok := true
	err = tx.QueryRowContext(ctx, selectEntryQuery, s.scope, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		ok = false
	} else if err != nil {
		return fmt.Errorf("failed to get kv entry: %w", err)
	}

	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertEntryQuery, s.scope, key, next); err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit kv transaction: %w", err)
	}
	return nil
}

// Remove は指定キーを削除する。
func (s *postgresStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE scope = $1 AND key = $2`,
		s.scope, key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove kv entry: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ Tier    = (*PostgresTier)(nil)
	_ Updater = (*postgresStore)(nil)
)
