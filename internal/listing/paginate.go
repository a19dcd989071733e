package listing

// Paginate はローカルに保持した一覧を表示モードに応じて切り出す。
// 無限スクロールでは先頭から page*perPage 件、ページ送りでは該当ページの範囲を返す。
// totalPagesは全件を perPage で割った切り上げ値。
func Paginate[T any](items []T, page, perPage int, mode Mode) (pageItems []T, totalPages int) {
	if perPage <= 0 {
		return items, 1
	}
	if page < 1 {
		page = 1
	}
	totalPages = (len(items) + perPage - 1) / perPage
	// 範囲外のページは結果が変わらないため、乗算前に丸める
	if page > totalPages+1 {
		page = totalPages + 1
	}

	end := min(page*perPage, len(items))
	start := 0
	if mode == ModePaged {
		start = min((page-1)*perPage, len(items))
	}

	out := make([]T, end-start)
	copy(out, items[start:end])
	return out, totalPages
}
