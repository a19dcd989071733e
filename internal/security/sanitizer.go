// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はカタログサービスから取得したタイトルやあらすじなど、
// 第三者由来のテキストからHTMLを取り除きプレーンテキストにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は第三者由来テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Plain はタグを全て除去し、文字参照を復元したプレーンテキストを返す。
	// 前後の空白は除去する。同一入力に対して常に同一出力を返す。
	Plain(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Plain はタグを除去したプレーンテキストを返す。
func (s *textSanitizer) Plain(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは & 等をエスケープして返すため、JSONで返す前に元の文字へ戻す
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
