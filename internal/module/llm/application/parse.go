package application

import (
	"encoding/json"
	"strings"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

// ParseJSON はモデル出力からJSONを取り出して v にデコードします
// 取り出せない・デコードできない場合は *domain.ParseError を返す
func ParseJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &domain.ParseError{Response: truncate(text, 500), Err: err}
	}
	return nil
}

// ExtractJSON はコードフェンスを除去し、最初に現れる構文的に正しいJSONオブジェクト/配列を返します
func ExtractJSON(text string) (string, error) {
	s := stripCodeFence(text)

	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end, ok := matchBalanced(s, i)
		if !ok {
			continue
		}
		candidate := s[i : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", &domain.ParseError{Response: truncate(text, 500), Err: domain.ErrNoJSONFound}
}

// stripCodeFence は先頭・末尾の ``` マーカー（言語タグ付きを含む）を取り除きます
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// matchBalanced は s[start] の括弧に対応する閉じ括弧の位置を返します
// 文字列リテラル内の括弧とエスケープは無視する
func matchBalanced(s string, start int) (int, bool) {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}

	return 0, false
}

// truncate はログ記録用に文字列を切り詰めます（途中で切れたマルチバイト文字は落とす）
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxLen], "") + "... (truncated)"
}
