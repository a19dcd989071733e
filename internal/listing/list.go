// Package listing はカタログ一覧のページング・マージエンジンを提供する。
//
// 一覧は「ページ送り」と「無限スクロール」の2つの表示モードを持つ。
// 無限スクロールでは取得したページを既存の一覧に連結し、映画IDで重複を除去する。
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hitoshi/jomovie/internal/model"
	"golang.org/x/sync/singleflight"
)

// Mode は一覧の表示モード。
type Mode int

const (
	// ModeInfinite はページを連結して蓄積する無限スクロール表示。
	ModeInfinite Mode = iota
	// ModePaged はページごとに一覧を置き換えるページ送り表示。
	ModePaged
)

// String はモード名を返す。
func (m Mode) String() string {
	if m == ModePaged {
		return "paged"
	}
	return "infinite"
}

// MarshalText はモードを文字列としてエンコードする。
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode はモード名を解析する。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "infinite":
		return ModeInfinite, nil
	case "paged":
		return ModePaged, nil
	default:
		return ModeInfinite, fmt.Errorf("unknown list mode: %q", s)
	}
}

// Status は一覧の取得状態。
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusEmpty   Status = "empty"
	StatusError   Status = "error"
)

// Fetcher は指定ページの映画一覧を取得する関数。
type Fetcher func(ctx context.Context, page int) (*model.MoviePage, error)

// Snapshot は一覧状態のある時点のコピー。
type Snapshot struct {
	Items       []model.Movie `json:"items"`
	CurrentPage int           `json:"current_page"`
	TotalPages  int           `json:"total_pages"`
	HasMore     bool          `json:"has_more"`
	Mode        Mode          `json:"mode"`
	Loading     bool          `json:"loading"`
	Status      Status        `json:"status"`
}

// List は1つの一覧の状態を保持する。
//
// リセットやモード切り替え、置き換えとなるページ要求のたびに世代番号を進め、
// それ以前に開始した取得の結果は破棄する。
// 同一世代・同一ページへの同時取得は1回の呼び出しにまとめる。
type List struct {
	mu          sync.Mutex
	fetch       Fetcher
	items       []model.Movie
	currentPage int
	totalPages  int
	hasMore     bool
	mode        Mode
	inflight    int
	requested   int
	status      Status
	generation  uint64

	group singleflight.Group
}

// New はListを生成する。
func New(fetch Fetcher, mode Mode) *List {
	return &List{
		fetch:       fetch,
		currentPage: 1,
		hasMore:     true,
		mode:        mode,
		status:      StatusIdle,
	}
}

// Snapshot は現在の状態のコピーを返す。
func (l *List) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *List) snapshotLocked() Snapshot {
	items := make([]model.Movie, len(l.items))
	copy(items, l.items)
	return Snapshot{
		Items:       items,
		CurrentPage: l.currentPage,
		TotalPages:  l.totalPages,
		HasMore:     l.hasMore,
		Mode:        l.mode,
		Loading:     l.inflight > 0,
		Status:      l.status,
	}
}

// fetchCall は開始済みの取得1件を表す。
type fetchCall struct {
	page       int
	generation uint64
	fetch      Fetcher
}

// beginLocked は取得を開始済みとして記録する。l.muを保持して呼び出すこと。
func (l *List) beginLocked(page int) fetchCall {
	l.inflight++
	l.requested = page
	l.status = StatusLoading
	return fetchCall{page: page, generation: l.generation, fetch: l.fetch}
}

// FetchPage は指定ページを取得して一覧に反映する。
// 無限スクロールかつ2ページ目以降の場合は既存の一覧に連結し、それ以外は置き換える。
// 取得失敗時はFetchFailedエラーを返し、状態はerrorになる。
//
// 取得中に別のページが要求された場合、無限スクロールの連結要求は無視して現在の状態を返す。
// 置き換えとなる要求は取得中の結果を破棄して優先する。
func (l *List) FetchPage(ctx context.Context, page int) (Snapshot, error) {
	if page < 1 {
		page = 1
	}
	l.mu.Lock()
	if l.inflight > 0 && page != l.requested {
		if l.mode == ModeInfinite && page > 1 {
			s := l.snapshotLocked()
			l.mu.Unlock()
			return s, nil
		}
		l.generation++
	}
	call := l.beginLocked(page)
	l.mu.Unlock()

	return l.run(ctx, call)
}

// NextPage は次のページを取得する。
// 取得中の場合、または次のページがない場合は何もせず、falseを返す。
func (l *List) NextPage(ctx context.Context) (Snapshot, bool, error) {
	l.mu.Lock()
	if l.inflight > 0 || !l.hasMore {
		s := l.snapshotLocked()
		l.mu.Unlock()
		return s, false, nil
	}
	call := l.beginLocked(l.currentPage + 1)
	l.mu.Unlock()

	s, err := l.run(ctx, call)
	return s, true, err
}

// ToggleMode は表示モードを切り替え、1ページ目から取得し直す。
// 再取得の完了前から、一覧は空・1ページ目の状態になる。
func (l *List) ToggleMode(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	if l.mode == ModeInfinite {
		l.mode = ModePaged
	} else {
		l.mode = ModeInfinite
	}
	l.resetLocked()
	call := l.beginLocked(1)
	l.mu.Unlock()

	return l.run(ctx, call)
}

// Reset は検索条件の変更などで一覧を初期状態に戻す。
// fetchがnilでない場合は取得関数を差し替える。表示モードは維持する。
func (l *List) Reset(fetch Fetcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fetch != nil {
		l.fetch = fetch
	}
	l.resetLocked()
	l.status = StatusIdle
}

func (l *List) resetLocked() {
	l.generation++
	l.items = nil
	l.currentPage = 1
	l.totalPages = 0
	l.hasMore = true
}

// run は取得を実行し、世代が一致する場合のみ結果を反映する。
// 共有される取得は呼び出し元のキャンセルから切り離して実行する。
func (l *List) run(ctx context.Context, call fetchCall) (Snapshot, error) {
	key := fmt.Sprintf("%d:%d", call.generation, call.page)
	shared := context.WithoutCancel(ctx)
	v, err, _ := l.group.Do(key, func() (any, error) {
		return call.fetch(shared, call.page)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight--

	if call.generation != l.generation {
		// 古い世代の結果は反映しない
		return l.snapshotLocked(), nil
	}

	if err != nil {
		l.status = StatusError
		return l.snapshotLocked(), asFetchError(err)
	}

	result, _ := v.(*model.MoviePage)
	var results []model.Movie
	if result != nil {
		results = result.Results
		l.totalPages = result.TotalPages
	}

	if l.mode == ModeInfinite && call.page > 1 {
		l.items = Merge(l.items, results)
	} else {
		l.items = Merge(nil, results)
	}
	l.currentPage = call.page
	l.hasMore = len(results) > 0

	if len(l.items) == 0 {
		l.status = StatusEmpty
	} else {
		l.status = StatusReady
	}
	return l.snapshotLocked(), nil
}

// asFetchError はエラーをFetchFailedエラーに揃える。
func asFetchError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewFetchFailedError(err.Error())
}

// Merge は既存の一覧と新しい結果を連結し、映画IDで重複を除去する。
// 最初に出現した要素を残し、順序は維持する。
func Merge(existing, incoming []model.Movie) []model.Movie {
	merged := make([]model.Movie, 0, len(existing)+len(incoming))
	seen := make(map[int]struct{}, len(existing)+len(incoming))
	for _, src := range [][]model.Movie{existing, incoming} {
		for _, m := range src {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	return merged
}
