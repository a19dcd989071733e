// Package wishlist はユーザーごとの「観たい映画」リストを提供する。
package wishlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/jomovie/internal/listing"
	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/storage"
)

// ItemsPerPage はウィッシュリスト画面の1ページあたりの件数。
const ItemsPerPage = 12

// Page はウィッシュリストの1ページ分の表示内容。
type Page struct {
	Items       []model.Movie `json:"items"`
	CurrentPage int           `json:"current_page"`
	TotalPages  int           `json:"total_pages"`
	Total       int           `json:"total"`
	Mode        listing.Mode  `json:"mode"`
}

// Store はIdentity 1人分のウィッシュリスト。
// 変更のたびに永続Tierの最新の一覧へ適用して書き込む。Identityがない場合はメモリ上のみで保持する。
type Store struct {
	durable  storage.Store
	identity *model.Identity

	mu    sync.Mutex
	items []model.Movie
}

// Open は保存済みのウィッシュリストを読み込む。
// 保存内容が壊れている場合は空の一覧として扱う。
func Open(ctx context.Context, durable storage.Store, identity *model.Identity) (*Store, error) {
	s := &Store{durable: durable, identity: identity}
	if !s.persistent() {
		return s, nil
	}

	raw, ok, err := durable.Get(ctx, s.key())
	if err != nil {
		return nil, fmt.Errorf("failed to load wishlist: %w", err)
	}
	if ok {
		s.items = s.decode(raw)
	}
	return s, nil
}

// Add は映画を追加する。同じIDの映画が既にある場合は何もしない。
func (s *Store) Add(ctx context.Context, movie model.Movie) error {
	return s.mutate(ctx, func(items []model.Movie) []model.Movie {
		if contains(items, movie.ID) {
			return items
		}
		return append(items, movie)
	})
}

// Remove は指定IDの映画を削除する。存在しない場合も成功とする。
func (s *Store) Remove(ctx context.Context, id int) error {
	return s.mutate(ctx, func(items []model.Movie) []model.Movie {
		return without(items, id)
	})
}

// Toggle は映画が未登録なら追加し、登録済みなら削除する。追加した場合はtrueを返す。
// 登録状態は書き込み直前の保存内容で判定する。
func (s *Store) Toggle(ctx context.Context, movie model.Movie) (bool, error) {
	var added bool
	err := s.mutate(ctx, func(items []model.Movie) []model.Movie {
		if contains(items, movie.ID) {
			added = false
			return without(items, movie.ID)
		}
		added = true
		return append(items, movie)
	})
	return added, err
}

// Contains は指定IDの映画が登録済みかどうかを返す。
func (s *Store) Contains(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return contains(s.items, id)
}

// Items は登録順の一覧のコピーを返す。
func (s *Store) Items() []model.Movie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Movie, len(s.items))
	copy(out, s.items)
	return out
}

// Page は表示モードに応じて一覧を切り出す。
func (s *Store) Page(page int, mode listing.Mode) Page {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, totalPages := listing.Paginate(s.items, page, ItemsPerPage, mode)
	return Page{
		Items:       items,
		CurrentPage: page,
		TotalPages:  totalPages,
		Total:       len(s.items),
		Mode:        mode,
	}
}

func (s *Store) persistent() bool {
	return s.durable != nil && s.identity != nil && s.identity.Email != ""
}

func (s *Store) key() string {
	return storage.WishlistKey(s.identity.Email)
}

// mutate は最新の一覧にfnを適用して保存し、手元の一覧も更新する。
// 永続Tierへの読み取りから書き込みまでは不可分に行う。
func (s *Store) mutate(ctx context.Context, fn func([]model.Movie) []model.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.persistent() {
		s.items = fn(s.items)
		return nil
	}

	var next []model.Movie
	err := storage.Update(ctx, s.durable, s.key(), func(current string, ok bool) (string, error) {
		var items []model.Movie
		if ok {
			items = s.decode(current)
		}
		next = fn(items)
		if next == nil {
			next = []model.Movie{}
		}
		b, err := json.Marshal(next)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	if err != nil {
		return fmt.Errorf("failed to save wishlist: %w", err)
	}
	s.items = next
	return nil
}

// decode は保存内容を一覧に変換する。壊れている場合は空の一覧として扱う。
func (s *Store) decode(raw string) []model.Movie {
	var items []model.Movie
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		slog.Warn("ignoring malformed wishlist", slog.String("email", s.identity.Email))
		return nil
	}
	return items
}

func contains(items []model.Movie, id int) bool {
	for _, m := range items {
		if m.ID == id {
			return true
		}
	}
	return false
}

func without(items []model.Movie, id int) []model.Movie {
	filtered := make([]model.Movie, 0, len(items))
	for _, m := range items {
		if m.ID != id {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
