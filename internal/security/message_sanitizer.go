// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はリモートサービスが返したエラーメッセージを
// 通知やフォームに表示する前にプレーンテキストへ変換する。
// bluemondayのStrictPolicyで全てのタグを除去する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageRunes は表示メッセージの最大文字数。
const maxMessageRunes = 200

// MessageSanitizer はリモート由来のメッセージをサニタイズするインターフェース。
type MessageSanitizer interface {
	// Clean はメッセージからHTMLを除去し、空白を正規化したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	Clean(message string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有してよい。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
func NewMessageSanitizer() MessageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Clean はメッセージをプレーンテキストに変換する。
func (s *messageSanitizer) Clean(message string) string {
	if message == "" {
		return ""
	}

	// 1. タグを除去（StrictPolicyは本文をエスケープして返す）
	stripped := s.policy.Sanitize(message)

	// 2. エスケープを戻す。表示側のテンプレートが改めてエスケープする
	text := html.UnescapeString(stripped)

	// 3. 改行や連続空白を1つの空白にまとめる
	text = strings.Join(strings.Fields(text), " ")

	// 4. 長すぎるメッセージは切り詰める
	if utf8.RuneCountInString(text) > maxMessageRunes {
		runes := []rune(text)
		text = string(runes[:maxMessageRunes]) + "…"
	}

	return text
}
