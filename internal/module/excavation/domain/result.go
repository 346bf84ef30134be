package domain

import "time"

// Confidence は結果の信頼度です
type Confidence string

const (
	// ConfidenceFull はすべての解析単位が解析できた状態
	ConfidenceFull Confidence = "full"
	// ConfidenceDegraded は一部の解析単位をスキップした状態
	ConfidenceDegraded Confidence = "degraded"
)

// ExcavationResult は発掘結果（考古学的レポート）の集約です
// パイプラインが逐次構築し、ジョブ完了時に添付された後は変更しない
type ExcavationResult struct {
	Repository      string           `json:"repository"`
	Ref             string           `json:"ref"`
	Mode            UnitMode         `json:"mode"`
	Model           string           `json:"model"`
	UnitsTotal      int              `json:"unitsTotal"`
	UnitsAnalyzed   int              `json:"unitsAnalyzed"`
	Findings        []UnitFinding    `json:"findings"`
	Layers          []Layer          `json:"layers"`
	Patterns        []Finding        `json:"patterns"`
	Gaps            []Finding        `json:"gaps"`
	Recommendations []Finding        `json:"recommendations"`
	Degraded        []DegradedMarker `json:"degraded"`
	Confidence      Confidence       `json:"confidence"`
	PromptTokens    int              `json:"promptTokens"`
	CompletedAt     time.Time        `json:"completedAt"`
}

// UnitFinding は1解析単位の要約（ビジネス観点での説明）です
type UnitFinding struct {
	UnitID  string    `json:"unitId"`
	Kind    UnitKind  `json:"kind"`
	Title   string    `json:"title"`
	Author  string    `json:"author,omitempty"`
	Date    time.Time `json:"date"`
	Summary string    `json:"summary"`
}

// Layer は履歴上の地層（時期・テーマのまとまり）です
type Layer struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Units       []string  `json:"units"`
	Since       time.Time `json:"since"`
	Until       time.Time `json:"until"`
}

// Finding はパターン・欠落・推奨事項の1件です
type Finding struct {
	UnitID   string `json:"unitId"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity,omitempty"`
}

// DegradedMarker は解析をスキップした単位の記録です
type DegradedMarker struct {
	UnitID string `json:"unitId"`
	Reason string `json:"reason"`
}
