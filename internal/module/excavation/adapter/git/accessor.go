package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	giturls "github.com/whilp/git-urls"
)

// allowedSchemes はリモート参照として受け付けるスキーム
var allowedSchemes = map[string]bool{
	"https": true,
	"http":  true,
	"ssh":   true,
	"git":   true,
	"file":  true,
}

// AccessorConfig はリポジトリアクセサの設定です
type AccessorConfig struct {
	// WorkDir はクローン先の一時ディレクトリを作る親ディレクトリ（空ならOSの一時ディレクトリ）
	WorkDir string
	// MaxHistoryCommits はファイルモードで遡るコミット数の上限
	MaxHistoryCommits int
	// HistoryDepth は解析単位に付けるコミット履歴の件数
	HistoryDepth int
	// MaxDiffBytes は差分テキストの上限
	MaxDiffBytes int
	// MaxContentBytes はファイル内容の上限
	MaxContentBytes int
	// AllowLocal はローカルディレクトリ・file URL の参照を受け付けるか
	AllowLocal bool
}

// DefaultAccessorConfig はデフォルト設定を返します
func DefaultAccessorConfig() AccessorConfig {
	return AccessorConfig{
		WorkDir:           "",
		MaxHistoryCommits: 1000,
		HistoryDepth:      5,
		MaxDiffBytes:      16 * 1024,
		MaxContentBytes:   24 * 1024,
		AllowLocal:        true,
	}
}

// Accessor はgo-gitを使った domain.RepositoryAccessor 実装です
type Accessor struct {
	client *GitClient
	config AccessorConfig
	logger *slog.Logger
}

// NewAccessor は新しいAccessorを作成します
func NewAccessor(client *GitClient, config AccessorConfig, logger *slog.Logger) *Accessor {
	defaults := DefaultAccessorConfig()
	if config.MaxHistoryCommits <= 0 {
		config.MaxHistoryCommits = defaults.MaxHistoryCommits
	}
	if config.HistoryDepth <= 0 {
		config.HistoryDepth = defaults.HistoryDepth
	}
	if config.MaxDiffBytes <= 0 {
		config.MaxDiffBytes = defaults.MaxDiffBytes
	}
	if config.MaxContentBytes <= 0 {
		config.MaxContentBytes = defaults.MaxContentBytes
	}
	return &Accessor{client: client, config: config, logger: logger}
}

// Validate はリポジトリ参照を検証します
// ローカルのgitディレクトリか、解釈可能なgit URLのみ受け付ける
func (a *Accessor) Validate(reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return &domain.ValidationError{Field: "repository", Reason: "must not be empty"}
	}

	if !a.config.AllowLocal && isLocalReference(reference) {
		return &domain.ValidationError{Field: "repository", Reason: "local repositories are not allowed"}
	}

	if isDir(reference) {
		if _, err := a.client.Open(reference); err != nil {
			return &domain.ValidationError{Field: "repository", Reason: "local directory is not a git repository"}
		}
		return nil
	}

	u, err := giturls.Parse(reference)
	if err != nil {
		return &domain.ValidationError{Field: "repository", Reason: "not a valid git URL"}
	}
	if !allowedSchemes[u.Scheme] {
		return &domain.ValidationError{Field: "repository", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	// giturls は任意の文字列を file スキームとして解釈するため、実在を確認する
	if u.Scheme == "file" {
		if !isDir(u.Path) {
			return &domain.ValidationError{Field: "repository", Reason: "local repository not found"}
		}
		if _, err := a.client.Open(u.Path); err != nil {
			return &domain.ValidationError{Field: "repository", Reason: "local directory is not a git repository"}
		}
		return nil
	}
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return &domain.ValidationError{Field: "repository", Reason: "git URL must include host and path"}
	}

	return nil
}

// Acquire はリポジトリを開きます
// リモートの場合は WorkDir 配下の一時ディレクトリにクローンし、Release で削除する
func (a *Accessor) Acquire(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
	reference = strings.TrimSpace(reference)

	if !a.config.AllowLocal && isLocalReference(reference) {
		return nil, fmt.Errorf("local repository %q is not allowed", reference)
	}

	if local := localPath(reference); local != "" {
		repo, err := a.client.Open(local)
		if err != nil {
			return nil, err
		}
		return a.newWorkspace(repo, opts, func() error { return nil })
	}

	if a.config.WorkDir != "" {
		if err := os.MkdirAll(a.config.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}

	name, err := a.client.URLToDirectoryName(reference)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(a.config.WorkDir, "excavation-"+strings.ReplaceAll(name, string(filepath.Separator), "-")+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}
	release := func() error {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove clone directory: %w", err)
		}
		return nil
	}

	a.logger.Info("Cloning repository", "repository", reference, "dir", dir)
	repo, err := a.client.Clone(ctx, reference, dir)
	if err != nil {
		if relErr := release(); relErr != nil {
			a.logger.Warn("Failed to clean up clone directory", "dir", dir, "error", relErr)
		}
		return nil, err
	}

	ws, err := a.newWorkspace(repo, opts, release)
	if err != nil {
		if relErr := release(); relErr != nil {
			a.logger.Warn("Failed to clean up clone directory", "dir", dir, "error", relErr)
		}
		return nil, err
	}
	return ws, nil
}

// localPath はローカルリポジトリを指す参照ならそのパスを返します
func localPath(reference string) string {
	if isDir(reference) {
		return reference
	}
	if strings.HasPrefix(reference, "file://") {
		if u, err := giturls.Parse(reference); err == nil && isDir(u.Path) {
			return u.Path
		}
	}
	return ""
}

// isLocalReference はローカルのパスまたは file URL を指す参照かを判定します
func isLocalReference(reference string) bool {
	if isDir(reference) || strings.HasPrefix(reference, "file://") {
		return true
	}
	u, err := giturls.Parse(reference)
	return err == nil && u.Scheme == "file"
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

var _ domain.RepositoryAccessor = (*Accessor)(nil)
