package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

const truncatedMarker = "\n... (truncated)"

// workspace は取得済みリポジトリから解析単位を切り出します
type workspace struct {
	client  *GitClient
	config  AccessorConfig
	repo    *git.Repository
	head    plumbing.Hash
	ref     string
	release func() error
	secrets *SecretMasker

	releaseOnce sync.Once
	releaseErr  error
}

func (a *Accessor) newWorkspace(repo *git.Repository, opts domain.JobOptions, release func() error) (*workspace, error) {
	hash, err := a.client.resolveRef(repo, opts.Ref)
	if err != nil {
		return nil, err
	}

	ref := opts.Ref
	if ref == "" {
		ref = "HEAD"
	}
	return &workspace{
		client:  a.client,
		config:  a.config,
		repo:    repo,
		head:    hash,
		ref:     fmt.Sprintf("%s (%s)", ref, shortHash(hash)),
		release: release,
		secrets: NewSecretMasker(),
	}, nil
}

// Ref は解決済みの ref 表示名を返します
func (w *workspace) Ref() string {
	return w.ref
}

// Release は一時ディレクトリを削除します（複数回呼んでもよい）
func (w *workspace) Release() error {
	w.releaseOnce.Do(func() {
		w.releaseErr = w.release()
	})
	return w.releaseErr
}

// Units はモードに応じた解析単位を新しい順に返します
func (w *workspace) Units(ctx context.Context, opts domain.JobOptions) ([]domain.AnalysisUnit, error) {
	filter := NewPathFilter(opts.Exclude)
	switch opts.Mode {
	case domain.UnitModeFiles:
		return w.fileUnits(ctx, opts.MaxUnits, filter)
	default:
		return w.commitUnits(ctx, opts.MaxUnits, filter)
	}
}

var errEnoughUnits = errors.New("enough units collected")

// commitUnits は ref から遡ったコミットを差分付きで返します
// 除外パターンにより変更が残らないコミットは数えない
func (w *workspace) commitUnits(ctx context.Context, maxUnits int, filter *PathFilter) ([]domain.AnalysisUnit, error) {
	iter, err := w.repo.Log(&git.LogOptions{From: w.head})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit log: %w", err)
	}
	defer iter.Close()

	var units []domain.AnalysisUnit
	var log []domain.CommitRef
	// 最後の単位の履歴として HistoryDepth 件まで余分に遡る
	trailing := 0

	err = iter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(units) >= maxUnits {
			if trailing >= w.config.HistoryDepth {
				return errEnoughUnits
			}
			log = append(log, commitRef(commit))
			trailing++
			return nil
		}
		log = append(log, commitRef(commit))

		changes, err := w.client.changesOf(commit)
		if err != nil {
			return err
		}
		var kept object.Changes
		var paths []string
		for _, change := range changes {
			path := changePath(change)
			if path == "" || filter.ShouldIgnore(path) {
				continue
			}
			kept = append(kept, change)
			paths = append(paths, path)
		}
		if len(kept) == 0 {
			return nil
		}

		patch, err := kept.PatchContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to build patch for %s: %w", commit.Hash, err)
		}

		diff, masked := w.secrets.Mask(patch.String())
		ref := commitRef(commit)
		units = append(units, domain.AnalysisUnit{
			ID:             ref.Hash,
			Kind:           domain.UnitKindCommit,
			Title:          firstLine(ref.Message),
			Author:         ref.Author,
			Date:           ref.Date,
			Message:        ref.Message,
			Diff:           truncate(diff, w.config.MaxDiffBytes),
			Language:       dominantLanguage(paths),
			SecretsMasked:  masked,
			SensitivePaths: w.secrets.SensitivePaths(paths),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errEnoughUnits) {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}

	// 各コミットの履歴は直前（より古い）のコミット群
	index := make(map[string]int, len(log))
	for i, c := range log {
		index[c.Hash] = i
	}
	for i := range units {
		start := index[units[i].ID] + 1
		end := min(start+w.config.HistoryDepth, len(log))
		if start < end {
			units[i].History = append([]domain.CommitRef(nil), log[start:end]...)
		}
	}

	return units, nil
}

// fileUnits は編集回数の多いファイルを内容と変更履歴付きで返します
func (w *workspace) fileUnits(ctx context.Context, maxUnits int, filter *PathFilter) ([]domain.AnalysisUnit, error) {
	freqs, err := w.client.GetFileEditFrequencies(ctx, w.repo, w.head, w.config.MaxHistoryCommits, w.config.HistoryDepth)
	if err != nil {
		return nil, err
	}

	ranked := make([]*FileEditFrequency, 0, len(freqs))
	for path, f := range freqs {
		if filter.ShouldIgnore(path) {
			continue
		}
		ranked = append(ranked, f)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].EditCount != ranked[j].EditCount {
			return ranked[i].EditCount > ranked[j].EditCount
		}
		if !ranked[i].LastEdited.Equal(ranked[j].LastEdited) {
			return ranked[i].LastEdited.After(ranked[j].LastEdited)
		}
		return ranked[i].FilePath < ranked[j].FilePath
	})

	commit, err := w.repo.CommitObject(w.head)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	var units []domain.AnalysisUnit
	for _, f := range ranked {
		if len(units) >= maxUnits {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, err := tree.File(f.FilePath)
		if err != nil {
			// ref 時点で削除済みのファイル
			continue
		}
		content, err := file.Contents()
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", f.FilePath, err)
		}
		if filter.ShouldIgnoreContent(f.FilePath, []byte(content)) {
			continue
		}

		masked, n := w.secrets.Mask(content)
		unit := domain.AnalysisUnit{
			ID:             f.FilePath,
			Kind:           domain.UnitKindFile,
			Title:          f.FilePath,
			Date:           f.LastEdited,
			Content:        truncate(masked, w.config.MaxContentBytes),
			Language:       DetectLanguage(f.FilePath, []byte(content)),
			History:        f.Commits,
			SecretsMasked:  n,
			SensitivePaths: w.secrets.SensitivePaths([]string{f.FilePath}),
		}
		if len(f.Commits) > 0 {
			unit.Author = f.Commits[0].Author
			unit.Message = f.Commits[0].Message
		}
		units = append(units, unit)
	}

	return units, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "") + truncatedMarker
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}
