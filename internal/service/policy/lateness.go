// Package policy computes lateness verdicts for submissions.
package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// defaultTierMaxHours applies to tiers configured without max_hours.
const defaultTierMaxHours = 999999

// ParseTimestamp reads a Canvas ISO-8601 timestamp. Missing or unparseable
// values yield nil, and so does a timestamp without a zone offset.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// ComputeLateness is a pure function of the two timestamps and the rule set.
// A nil rule set reports lateness without ever applying a penalty.
func ComputeLateness(dueAt, submittedAt *time.Time, rules *models.LateRuleSet) models.LatenessVerdict {
	if dueAt == nil || submittedAt == nil {
		return models.LatenessVerdict{}
	}

	lateMinutes := int(math.Floor(submittedAt.Sub(*dueAt).Minutes()))
	if lateMinutes <= 0 {
		return models.LatenessVerdict{}
	}

	if rules == nil {
		return models.LatenessVerdict{IsLate: true, LateMinutes: lateMinutes}
	}

	if lateMinutes <= rules.GraceMinutes {
		return models.LatenessVerdict{LateMinutes: lateMinutes, GraceApplied: true}
	}

	lateHours := float64(lateMinutes) / 60.0
	penalty := 0
	for _, tier := range rules.Tiers {
		if tier.MaxHours >= lateHours {
			penalty = tier.PenaltyPercent
			break
		}
	}

	return models.LatenessVerdict{IsLate: true, LateMinutes: lateMinutes, PenaltyPercent: penalty}
}

type rawTier struct {
	MaxHours       *float64 `json:"max_hours"`
	PenaltyPercent *int     `json:"penalty_percent"`
}

type rawRuleSet struct {
	GraceMinutes *int      `json:"grace_minutes"`
	Tiers        []rawTier `json:"tiers"`
}

// ParseRuleSet decodes the JSON late-rule configuration. An empty string
// means no rule set. Tier order is preserved.
func ParseRuleSet(raw string) (*models.LateRuleSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var parsed rawRuleSet
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse late rules: %w", err)
	}

	rules := &models.LateRuleSet{}
	if parsed.GraceMinutes != nil {
		if *parsed.GraceMinutes < 0 {
			return nil, fmt.Errorf("grace_minutes must be >= 0, got %d", *parsed.GraceMinutes)
		}
		rules.GraceMinutes = *parsed.GraceMinutes
	}

	for i, t := range parsed.Tiers {
		tier := models.LateTier{MaxHours: defaultTierMaxHours}
		if t.MaxHours != nil {
			tier.MaxHours = *t.MaxHours
		}
		if t.PenaltyPercent != nil {
			tier.PenaltyPercent = *t.PenaltyPercent
		}
		if tier.PenaltyPercent < 0 || tier.PenaltyPercent > 100 {
			return nil, fmt.Errorf("tier %d: penalty_percent must be within [0,100], got %d", i, tier.PenaltyPercent)
		}
		if tier.MaxHours < 0 {
			return nil, fmt.Errorf("tier %d: max_hours must be >= 0", i)
		}
		rules.Tiers = append(rules.Tiers, tier)
	}

	return rules, nil
}

// Engine binds a configured rule set to the timestamp parser.
type Engine struct {
	rules *models.LateRuleSet
}

func NewEngine(rules *models.LateRuleSet) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) Rules() *models.LateRuleSet {
	return e.rules
}

func (e *Engine) Evaluate(dueAt, submittedAt string) models.LatenessVerdict {
	return ComputeLateness(ParseTimestamp(dueAt), ParseTimestamp(submittedAt), e.rules)
}
