package adapter

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding はモデル名からエンコーディングを特定できない場合に使用する
const fallbackEncoding = "cl100k_base"

// TokenCounter はトークン数をカウントする機能を提供する
// エンコーディングはモデルごとにキャッシュする
type TokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// Count はモデルのエンコーディングでテキストのトークン数をカウントする
func (tc *TokenCounter) Count(model, text string) (int, error) {
	encoding, err := tc.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(encoding.Encode(text, nil, nil)), nil
}

func (tc *TokenCounter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if enc, ok := tc.encodings[model]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// 未知のモデル名は汎用エンコーディングで代用
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
		}
	}

	tc.encodings[model] = enc
	return enc, nil
}
