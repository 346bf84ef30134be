package git

import (
	"path/filepath"

	"github.com/go-enry/go-enry/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

// PathFilter は解析対象から外すパスを判定します
// デフォルトパターンとジョブの exclude オプションを gitignore 形式で評価する
type PathFilter struct {
	patterns *gitignore.GitIgnore
}

// NewPathFilter は新しいPathFilterを作成します
func NewPathFilter(exclude []string) *PathFilter {
	patterns := append(defaultIgnorePatterns(), exclude...)
	return &PathFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}
}

// ShouldIgnore はパスだけで除外対象かどうかを判定します
func (f *PathFilter) ShouldIgnore(path string) bool {
	if f.patterns != nil && f.patterns.MatchesPath(path) {
		return true
	}
	return enry.IsVendor(path) || enry.IsImage(path)
}

// ShouldIgnoreContent は内容を見て除外対象かどうかを判定します（バイナリ・自動生成）
func (f *PathFilter) ShouldIgnoreContent(path string, content []byte) bool {
	return enry.IsBinary(content) || enry.IsGenerated(path, content)
}

// DetectLanguage はファイルパスと内容から言語名を判定します
func DetectLanguage(path string, content []byte) string {
	return enry.GetLanguage(filepath.Base(path), content)
}

// dominantLanguage は拡張子から判定した言語のうち最も多いものを返します
func dominantLanguage(paths []string) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, p := range paths {
		lang, _ := enry.GetLanguageByExtension(p)
		if lang == "" {
			lang, _ = enry.GetLanguageByFilename(p)
		}
		if lang == "" {
			continue
		}
		counts[lang]++
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	return best
}

// defaultIgnorePatterns はデフォルトの除外パターンを返します
func defaultIgnorePatterns() []string {
	return []string{
		// 依存関係・ビルド成果物
		"node_modules",
		"vendor",
		"dist",
		"build",
		"target",
		"bin",
		"obj",

		// ロックファイル
		"package-lock.json",
		"yarn.lock",
		"pnpm-lock.yaml",
		"go.sum",
		"Cargo.lock",
		"poetry.lock",

		// 環境変数・鍵
		".env",
		".env.*",
		"*.pem",
		"*.key",
		"*.p12",

		// アーカイブ・バイナリ
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",
		"*.jar",
		"*.zip",
		"*.tar",
		"*.gz",

		// メディア・フォント
		"*.mp4",
		"*.mp3",
		"*.wav",
		"*.ttf",
		"*.woff",
		"*.woff2",

		// データベースファイル
		"*.db",
		"*.sqlite",
		"*.sqlite3",

		"*.log",
		"*.min.js",
		"*.map",
	}
}
