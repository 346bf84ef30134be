package domain

import (
	"context"
	"time"
)

// UnitKind は解析単位の種類です
type UnitKind string

const (
	UnitKindCommit UnitKind = "commit"
	UnitKindFile   UnitKind = "file"
)

// SecretMaskToken は解析単位中でマスクされた秘匿情報の置換文字列です
const SecretMaskToken = "***MASKED***"

// CommitRef は解析単位に付随するコミット履歴の1件です
type CommitRef struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// AnalysisUnit は解析対象の1単位（コミットまたはファイル）です
// 結果に集約されるだけで、単独では永続化しない
type AnalysisUnit struct {
	// ID はコミットハッシュまたはファイルパス
	ID       string
	Kind     UnitKind
	Title    string
	Author   string
	Date     time.Time
	Message  string
	Content  string
	Diff     string
	Language string
	History  []CommitRef
	// SecretsMasked はプロバイダへ送る前にマスクした秘匿情報の件数
	SecretsMasked int
	// SensitivePaths は認証情報を含みうるパス（.env や秘密鍵など）
	SensitivePaths []string
}

// Workspace は取得済みリポジトリへのスコープ付きアクセスです
// Release は成功・失敗どちらの経路でも必ず呼ぶこと
type Workspace interface {
	// Units は解析単位を新しい順に最大 opts.MaxUnits 件返します
	Units(ctx context.Context, opts JobOptions) ([]AnalysisUnit, error)
	// Ref は解決済みの ref 表示名を返します
	Ref() string
	// Release は一時的な実体化（クローン等）を解放します
	Release() error
}

// RepositoryAccessor はバージョン管理システムへのポートです
type RepositoryAccessor interface {
	// Validate はリポジトリ参照の形式を同期的に検証します
	Validate(reference string) error
	// Acquire はリポジトリを解析可能な状態にします
	Acquire(ctx context.Context, reference string, opts JobOptions) (Workspace, error)
}
