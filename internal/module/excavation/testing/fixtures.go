package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	llmapp "github.com/jinford/code-archaeologist/internal/module/llm/application"
)

// TestCommitUnit はテスト用のコミット単位を生成します（n が大きいほど古い）
func TestCommitUnit(n int) domain.AnalysisUnit {
	hash := fmt.Sprintf("%040d", n)
	return domain.AnalysisUnit{
		ID:      hash,
		Kind:    domain.UnitKindCommit,
		Title:   fmt.Sprintf("change %d", n),
		Author:  "Alice",
		Date:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n),
		Message: fmt.Sprintf("change %d", n),
		Diff:    fmt.Sprintf("+func step%d() {}\n", n),
	}
}

// TestCommitUnits は n 件のコミット単位を生成します
func TestCommitUnits(n int) []domain.AnalysisUnit {
	units := make([]domain.AnalysisUnit, 0, n)
	for i := 1; i <= n; i++ {
		units = append(units, TestCommitUnit(i))
	}
	return units
}

// TestAnalysisJSON はモデル応答として妥当なJSONを返します
func TestAnalysisJSON(summary, layer string) string {
	return fmt.Sprintf("```json\n{\"prompt_version\":\"1.0\",\"summary\":%q,\"layer\":{\"name\":%q,\"description\":\"d\"},"+
		"\"patterns\":[{\"title\":\"p\",\"detail\":\"pattern\"}],"+
		"\"gaps\":[{\"title\":\"g\",\"detail\":\"gap\",\"severity\":\"High\"}],"+
		"\"recommendations\":[{\"title\":\"r\",\"detail\":\"rewrite\"}]}\n```", summary, layer)
}

// ScriptedSynthesizer はプロンプトに応じた応答テキストを返す MockSynthesizer を作成します
// 応答は本番と同じパーサでデコードする
func ScriptedSynthesizer(respond func(prompt string) (string, error)) *MockSynthesizer {
	return &MockSynthesizer{
		GenerateJSONFunc: func(ctx context.Context, prompt string, v any) error {
			text, err := respond(prompt)
			if err != nil {
				return err
			}
			return llmapp.ParseJSON(text, v)
		},
	}
}
