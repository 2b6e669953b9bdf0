package models

// LatenessVerdict is derived per evaluation and never stored by the watcher.
type LatenessVerdict struct {
	IsLate         bool `json:"late"`
	LateMinutes    int  `json:"late_minutes"`
	GraceApplied   bool `json:"grace_applied"`
	PenaltyPercent int  `json:"penalty_percent"`
}

type LateTier struct {
	MaxHours       float64 `json:"max_hours"`
	PenaltyPercent int     `json:"penalty_percent"`
}

// LateRuleSet is optional; a nil rule set means report lateness without penalty.
type LateRuleSet struct {
	GraceMinutes int        `json:"grace_minutes"`
	Tiers        []LateTier `json:"tiers"`
}
