package application

import (
	"strings"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

// DefaultPreferredModels はレート制限に強い順のモデル優先リスト
var DefaultPreferredModels = []string{
	"gpt-4o-mini",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
	"gpt-4o",
	"gpt-3.5-turbo",
}

// nonTextModelMarkers はテキスト生成に使えないモデル名の目印
var nonTextModelMarkers = []string{
	"vision",
	"image",
	"audio",
	"embedding",
	"embed",
	"tts",
	"whisper",
	"dall-e",
	"moderation",
	"transcribe",
	"realtime",
}

// IsTextGenerationModel はモデルがプレーンテキスト生成に使えるかを名前から判定します
func IsTextGenerationModel(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	lower := strings.ToLower(id)
	for _, marker := range nonTextModelMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// SelectCandidates は利用可能なモデルから試行順の候補リストを作ります
// 優先リストに含まれるモデルを優先順に並べ、その後にその他の互換モデルを提供順で続ける
func SelectCandidates(preferred []string, available []domain.ModelInfo) []string {
	availableSet := make(map[string]bool, len(available))
	for _, m := range available {
		availableSet[m.ID] = true
	}

	seen := make(map[string]bool)
	candidates := make([]string, 0, len(available))

	for _, id := range preferred {
		if availableSet[id] && !seen[id] {
			candidates = append(candidates, id)
			seen[id] = true
		}
	}

	for _, m := range available {
		if seen[m.ID] || !IsTextGenerationModel(m.ID) {
			continue
		}
		candidates = append(candidates, m.ID)
		seen[m.ID] = true
	}

	return candidates
}
