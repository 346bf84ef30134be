package git

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

// SecretMasker は差分・ファイル内容に含まれる秘匿情報をマスクする
// 解析単位はそのままプロバイダへ送られるため、送信前に必ず通す
type SecretMasker struct {
	// 秘匿情報検出用の正規表現パターン
	patterns []*regexp.Regexp

	// 秘匿情報を含みうるファイル名パターン
	filePatterns []string
}

// NewSecretMasker は新しいSecretMaskerを作成する
func NewSecretMasker() *SecretMasker {
	return &SecretMasker{
		patterns: secretPatterns,
		filePatterns: []string{
			// 環境変数ファイル
			".env",
			".env.*",
			"*.env",
			// 認証情報ファイル
			"*credentials*",
			"*secrets*",
			// 証明書・キー
			"*.pem",
			"*.key",
			"*.p12",
			"*.pfx",
			"*.jks",
			"*.keystore",
			// SSH関連
			"id_rsa",
			"id_dsa",
			"id_ecdsa",
			"id_ed25519",
		},
	}
}

var secretPatterns = compileSecretPatterns()

// compileSecretPatterns は秘匿情報を検出するための正規表現をコンパイルする
func compileSecretPatterns() []*regexp.Regexp {
	patterns := []string{
		// APIキー (汎用)
		`(?i)api[_-]?key\s*[:=]\s*["']?[a-zA-Z0-9_\-]{20,}["']?`,
		// AWS関連
		`(?i)aws[_-]?access[_-]?key[_-]?id\s*[:=]\s*["']?[A-Z0-9]{20}["']?`,
		`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}["']?`,
		`\bAKIA[0-9A-Z]{16}\b`,
		// GitHub関連
		`\bgh[pousr]_[a-zA-Z0-9]{20,}\b`,
		// OpenAI関連
		`\bsk-(?:proj-)?[a-zA-Z0-9_\-]{20,}\b`,
		// Slack関連
		`\bxox[baprs]-[a-zA-Z0-9\-]{10,72}\b`,
		// プライベートキー
		`-----BEGIN\s+(?:RSA\s+|EC\s+|DSA\s+|OPENSSH\s+|ENCRYPTED\s+)?PRIVATE\s+KEY-----`,
		// パスワード（一般的なパターン）
		`(?i)(?:password|passwd|pwd)\s*[:=]\s*["'][^"'\s]{4,}["']`,
		// データベース接続文字列の認証情報
		`(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:/\s]+:[^@/\s]+@`,
		// JWT トークン
		`\beyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`,
		// Bearer トークン
		`(?i)bearer\s+[a-zA-Z0-9_\-\.]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return compiled
}

// Mask は秘匿情報をマスクし、マスクした件数を返す
func (m *SecretMasker) Mask(content string) (string, int) {
	count := 0
	masked := content
	for _, pattern := range m.patterns {
		masked = pattern.ReplaceAllStringFunc(masked, func(string) string {
			count++
			return domain.SecretMaskToken
		})
	}
	return masked, count
}

// SensitivePaths はパス一覧から秘匿情報を含みうるものを返す
func (m *SecretMasker) SensitivePaths(paths []string) []string {
	var sensitive []string
	for _, path := range paths {
		if m.isSensitivePath(path) {
			sensitive = append(sensitive, path)
		}
	}
	return sensitive
}

func (m *SecretMasker) isSensitivePath(path string) bool {
	lowerName := strings.ToLower(filepath.Base(path))

	for _, pattern := range m.filePatterns {
		if strings.Contains(pattern, "*") {
			if matched, err := filepath.Match(pattern, lowerName); err == nil && matched {
				return true
			}
			continue
		}
		if pattern == lowerName {
			return true
		}
	}

	// ディレクトリ名による判定
	lowerPath := strings.ToLower(filepath.ToSlash(path))
	for _, keyword := range []string{".ssh/", ".aws/", ".gnupg/", "secrets/"} {
		if strings.Contains(lowerPath, keyword) {
			return true
		}
	}
	return false
}
