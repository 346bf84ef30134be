package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	giturls "github.com/whilp/git-urls"
)

// GitClient は Git リポジトリ操作を提供します
type GitClient struct {
	// SSH認証用の秘密鍵パス
	sshKeyPath string
	// SSH秘密鍵のパスワード（パスフレーズ）
	sshPassword string
}

// NewGitClient は新しいGitClientを作成します
func NewGitClient(sshKeyPath, sshPassword string) *GitClient {
	return &GitClient{
		sshKeyPath:  sshKeyPath,
		sshPassword: sshPassword,
	}
}

// URLToDirectoryName はGit URLをディレクトリ名に変換します
// 例: https://github.com/hoge/fuga.git -> github.com/hoge/fuga
// 例: git@github.com:hoge/fuga.git -> github.com/hoge/fuga
// 例: https://github.com:8080/hoge/fuga.git -> github.com/hoge/fuga
func (c *GitClient) URLToDirectoryName(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	// ホスト名のみを取得（ポート番号を除外）
	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")

	return filepath.Join(hostname, path), nil
}

// Clone はGitリポジトリをベアリポジトリとしてクローンします
// 解析はオブジェクトのみを読むため作業ツリーは作らない
func (c *GitClient) Clone(ctx context.Context, url, destDir string) (*git.Repository, error) {
	auth, err := c.authFor(url)
	if err != nil {
		return nil, fmt.Errorf("failed to setup SSH auth: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, destDir, true, &git.CloneOptions{
		URL:  url,
		Auth: auth,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	return repo, nil
}

// Open はローカルのリポジトリを開きます
// 親ディレクトリのリポジトリを拾わないよう、path 自体がリポジトリである必要がある
func (c *GitClient) Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// authFor はURLのスキームに応じた認証方式を返します（SSH以外は認証なし）
func (c *GitClient) authFor(url string) (transport.AuthMethod, error) {
	u, err := giturls.Parse(url)
	if err != nil || u.Scheme != "ssh" {
		return nil, nil
	}
	auth, err := c.getSSHAuth()
	if err != nil || auth == nil {
		return nil, err
	}
	return auth, nil
}

// getSSHAuth はSSH認証を設定します
func (c *GitClient) getSSHAuth() (*ssh.PublicKeys, error) {
	if c.sshKeyPath == "" {
		return nil, nil
	}

	// SSH鍵が存在しない場合は認証なし
	if _, err := os.Stat(c.sshKeyPath); os.IsNotExist(err) {
		return nil, nil
	}

	auth, err := ssh.NewPublicKeysFromFile("git", c.sshKeyPath, c.sshPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}

	return auth, nil
}

// resolveRef はrefを解決してHashを返します（空文字列はHEAD）
func (c *GitClient) resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if ref == "" || ref == "HEAD" {
		headRef, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		return headRef.Hash(), nil
	}

	// ブランチとして解決を試みる
	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true)
	if err == nil {
		return branchRef.Hash(), nil
	}

	// リモートブランチとして解決を試みる
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true)
	if err == nil {
		return remoteRef.Hash(), nil
	}

	// タグとして解決を試みる（注釈付きタグはコミットまで辿る）
	tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true)
	if err == nil {
		if tag, err := repo.TagObject(tagRef.Hash()); err == nil {
			if commit, err := tag.Commit(); err == nil {
				return commit.Hash, nil
			}
		}
		return tagRef.Hash(), nil
	}

	// 直接ハッシュとして解決を試みる（短縮ハッシュも可）
	if hash, err := repo.ResolveRevision(plumbing.Revision(ref)); err == nil {
		return *hash, nil
	}

	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref: %s", ref)
}

// FileEditFrequency はファイルの編集頻度情報を表します
type FileEditFrequency struct {
	FilePath   string
	EditCount  int       // 編集回数
	LastEdited time.Time // 最終編集日時
	// Commits はこのファイルを変更したコミット（新しい順、最大 historyDepth 件）
	Commits []domain.CommitRef
}

var errHistoryLimit = errors.New("history limit reached")

// GetFileEditFrequencies はref から遡ってファイルごとの編集回数を集計します
// 遡るコミット数は maxCommits で打ち切る
func (c *GitClient) GetFileEditFrequencies(ctx context.Context, repo *git.Repository, hash plumbing.Hash, maxCommits, historyDepth int) (map[string]*FileEditFrequency, error) {
	commitIter, err := repo.Log(&git.LogOptions{From: hash})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit log: %w", err)
	}
	defer commitIter.Close()

	editFrequencies := make(map[string]*FileEditFrequency)
	record := func(path string, commit *object.Commit) {
		freq, exists := editFrequencies[path]
		if !exists {
			freq = &FileEditFrequency{FilePath: path}
			editFrequencies[path] = freq
		}
		freq.EditCount++
		if commit.Author.When.After(freq.LastEdited) {
			freq.LastEdited = commit.Author.When
		}
		if len(freq.Commits) < historyDepth {
			freq.Commits = append(freq.Commits, commitRef(commit))
		}
	}

	visited := 0
	err = commitIter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if maxCommits > 0 && visited >= maxCommits {
			return errHistoryLimit
		}
		visited++

		changes, err := c.changesOf(commit)
		if err != nil {
			return err
		}
		for _, change := range changes {
			if path := changePath(change); path != "" {
				record(path, commit)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errHistoryLimit) {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}

	return editFrequencies, nil
}

// changesOf は第一親との差分を返します（初回コミットは全ファイルが追加扱い）
func (c *GitClient) changesOf(commit *object.Commit) (object.Changes, error) {
	currentTree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for commit %s: %w", commit.Hash, err)
	}

	if commit.NumParents() == 0 {
		changes, err := object.DiffTree(nil, currentTree)
		if err != nil {
			return nil, fmt.Errorf("failed to diff root commit %s: %w", commit.Hash, err)
		}
		return changes, nil
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent of %s: %w", commit.Hash, err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get parent tree: %w", err)
	}

	changes, err := parentTree.Diff(currentTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}
	return changes, nil
}

func changePath(change *object.Change) string {
	if change.To.Name != "" {
		return change.To.Name
	}
	return change.From.Name
}

func commitRef(commit *object.Commit) domain.CommitRef {
	return domain.CommitRef{
		Hash:    commit.Hash.String(),
		Author:  commit.Author.Name,
		Date:    commit.Author.When,
		Message: strings.TrimSpace(commit.Message),
	}
}
