package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/hitoshi/jomovie/internal/model"
)

// PosterSizes はTMDBが提供するポスター画像のサイズ。
var PosterSizes = []string{"w92", "w154", "w185", "w342", "w500", "w780", "original"}

// maxPosterSize はポスター画像の最大サイズ（5MB）。
const maxPosterSize = 5 * 1024 * 1024

var posterFilePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.(jpg|jpeg|png|webp|svg)$`)

// Poster は中継するポスター画像。呼び出し元はBodyを閉じること。
type Poster struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// PosterURL はポスター画像の配信URLを返す。
// fileは "/abc.jpg" のようにスラッシュ始まりでもよい。
func (c *Client) PosterURL(size, file string) (string, error) {
	if !slices.Contains(PosterSizes, size) {
		return "", model.NewInvalidRequestError(
			fmt.Sprintf("画像サイズが不正です: %s", size),
			"w92, w154, w185, w342, w500, w780, original のいずれかを指定してください。",
		)
	}
	file = strings.TrimPrefix(file, "/")
	if !posterFilePattern.MatchString(file) {
		return "", model.NewInvalidRequestError("画像ファイル名が不正です。", "正しい画像パスを指定してください。")
	}
	return c.imageBaseURL + "/" + size + "/" + file, nil
}

// Poster はポスター画像を取得する。
func (c *Client) Poster(ctx context.Context, size, file string) (*Poster, error) {
	posterURL, err := c.PosterURL(size, file)
	if err != nil {
		return nil, err
	}
	if c.validateURL != nil {
		if err := c.validateURL(posterURL); err != nil {
			c.logger.Warn("ポスター画像URLが拒否されました",
				slog.String("url", posterURL),
				slog.String("error", err.Error()),
			)
			return nil, model.NewFetchFailedError("画像URLが許可されていません")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, posterURL, nil)
	if err != nil {
		return nil, model.NewFetchFailedError("リクエストの作成に失敗しました")
	}

	resp, err := c.imageClient.Do(req)
	if err != nil {
		c.logger.Error("ポスター画像の取得に失敗しました",
			slog.String("url", posterURL),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordCatalogRequest("poster", false)
		return nil, model.NewFetchFailedError("通信エラー")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.metrics.RecordCatalogRequest("poster", false)
		return nil, model.NewFetchFailedError(fmt.Sprintf("ステータス %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		resp.Body.Close()
		c.metrics.RecordCatalogRequest("poster", false)
		return nil, model.NewFetchFailedError("画像ではない応答を受信しました")
	}

	c.metrics.RecordCatalogRequest("poster", true)
	return &Poster{
		Body: struct {
			io.Reader
			io.Closer
		}{io.LimitReader(resp.Body, maxPosterSize), resp.Body},
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}
