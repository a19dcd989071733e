// Package model はドメインモデルを定義する。
package model

// Movie はカタログサービスから取得した映画情報を表す。
// 外部サービスのスナップショットであり、ローカルで変更しない。
type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	PosterPath  string  `json:"poster_path"`
	Overview    string  `json:"overview"`
	VoteAverage float64 `json:"vote_average"`
	ReleaseDate string  `json:"release_date"`
	GenreIDs    []int   `json:"genre_ids,omitempty"`
}

// Genre はカタログサービスのジャンル参照データを表す。
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// MoviePage はカタログサービスから取得した1ページ分の結果を表す。
type MoviePage struct {
	Page       int
	Results    []Movie
	TotalPages int
}
