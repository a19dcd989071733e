// Package history はユーザーごとの検索履歴を提供する。
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/storage"
)

// MaxEntries は保持する検索履歴の最大件数。
const MaxEntries = 5

// Store は検索履歴を永続Tierに保存する。
type Store struct {
	durable storage.Store
}

// New はStoreを生成する。
func New(durable storage.Store) *Store {
	return &Store{durable: durable}
}

// List は新しい順の検索履歴を返す。Identityがない場合は空。
func (s *Store) List(ctx context.Context, identity *model.Identity) ([]string, error) {
	if identity == nil || identity.Email == "" {
		return []string{}, nil
	}

	raw, ok, err := s.durable.Get(ctx, storage.SearchHistoryKey(identity.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to load search history: %w", err)
	}
	if !ok {
		return []string{}, nil
	}

	var entries []string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("ignoring malformed search history", slog.String("email", identity.Email))
		return []string{}, nil
	}
	return entries, nil
}

// Record は検索語を履歴の先頭に追加する。
// 1ページ目の検索のみを記録し、同じ検索語は先頭に移動する。空白のみの検索語は記録しない。
func (s *Store) Record(ctx context.Context, identity *model.Identity, query string, page int) ([]string, error) {
	query = strings.TrimSpace(query)
	if identity == nil || identity.Email == "" || query == "" || page != 1 {
		return s.List(ctx, identity)
	}

	var updated []string
	err := storage.Update(ctx, s.durable, storage.SearchHistoryKey(identity.Email), func(raw string, ok bool) (string, error) {
		var current []string
		if ok {
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				slog.Warn("ignoring malformed search history", slog.String("email", identity.Email))
				current = nil
			}
		}

		updated = make([]string, 0, MaxEntries)
		updated = append(updated, query)
		for _, q := range current {
			if len(updated) == MaxEntries {
				break
			}
			if q != query {
				updated = append(updated, q)
			}
		}

		b, err := json.Marshal(updated)
		if err != nil {
			return "", fmt.Errorf("failed to encode search history: %w", err)
		}
		return string(b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save search history: %w", err)
	}
	return updated, nil
}
