// Package cleanup は長期間利用されていないプロファイルの削除ジョブを提供する。
// プロファイル単位の永続Tier（kv_entriesのprofile:スコープ）のうち、
// 最終更新が保持期間を超過したものを定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// purgeQuery はスコープ内の最新更新日時が保持期間より古いプロファイルを丸ごと削除する。
const purgeQuery = `DELETE FROM kv_entries
WHERE scope IN (
	SELECT scope FROM kv_entries
	WHERE scope LIKE 'profile:%'
	GROUP BY scope
	HAVING max(updated_at) < now() - $1::interval
)`

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過したプロファイルの削除ジョブ。
// 削除対象がない場合も成功とし、何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // プロファイルの保持日数（デフォルト: 400）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数はプロファイルCookieの有効期間と同じ400日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 400,
	}
}

// Run は保持期間を超過したプロファイルのエントリを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx, purgeQuery, interval)
	if err != nil {
		j.logger.Error("プロファイルクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("プロファイルクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("プロファイルクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。Runの失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup job will retry on next tick", slog.String("error", err.Error()))
	}
}
