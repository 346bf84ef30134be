package domain

import "fmt"

// UnitMode は解析単位の種類を表します
type UnitMode string

const (
	// UnitModeCommits はコミット単位で解析します
	UnitModeCommits UnitMode = "commits"
	// UnitModeFiles は編集頻度の高いファイル単位で解析します
	UnitModeFiles UnitMode = "files"
)

const (
	// DefaultMaxUnits は maxUnits 省略時の解析単位数
	DefaultMaxUnits = 20
	// MaxUnitsLimit は maxUnits の上限
	MaxUnitsLimit = 200
)

// JobOptions はジョブ投入時のオプションです
type JobOptions struct {
	// MaxUnits は解析する単位数の上限（コスト制御）
	MaxUnits int `json:"maxUnits"`
	// Mode は解析単位の種類
	Mode UnitMode `json:"mode"`
	// Ref はブランチ・タグ・コミットハッシュ（省略時は HEAD）
	Ref string `json:"ref,omitempty"`
	// Exclude は gitignore 形式の除外パターン
	Exclude []string `json:"exclude,omitempty"`
}

// Normalize はデフォルト値を補完し、不正な値を ValidationError で返します
func (o JobOptions) Normalize(limit int) (JobOptions, error) {
	if limit <= 0 {
		limit = MaxUnitsLimit
	}
	if o.MaxUnits < 0 {
		return o, &ValidationError{Field: "options.maxUnits", Reason: "must not be negative"}
	}
	if o.MaxUnits == 0 {
		o.MaxUnits = min(DefaultMaxUnits, limit)
	}
	if o.MaxUnits > limit {
		return o, &ValidationError{Field: "options.maxUnits", Reason: fmt.Sprintf("must be at most %d", limit)}
	}

	switch o.Mode {
	case "":
		o.Mode = UnitModeCommits
	case UnitModeCommits, UnitModeFiles:
	default:
		return o, &ValidationError{Field: "options.mode", Reason: fmt.Sprintf("unknown mode %q", o.Mode)}
	}

	return o, nil
}
