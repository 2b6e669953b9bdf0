package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulalimswe/FairMark/internal/models"
)

func at(t time.Time, minutes int) *time.Time {
	v := t.Add(time.Duration(minutes) * time.Minute)
	return &v
}

var due = time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

func tieredRules(grace int) *models.LateRuleSet {
	return &models.LateRuleSet{
		GraceMinutes: grace,
		Tiers: []models.LateTier{
			{MaxHours: 24, PenaltyPercent: 10},
			{MaxHours: 72, PenaltyPercent: 30},
		},
	}
}

func TestComputeLateness(t *testing.T) {
	tests := []struct {
		name      string
		dueAt     *time.Time
		submitted *time.Time
		rules     *models.LateRuleSet
		want      models.LatenessVerdict
	}{
		{
			name:      "missing due date",
			dueAt:     nil,
			submitted: at(due, 90),
			rules:     tieredRules(15),
			want:      models.LatenessVerdict{},
		},
		{
			name:      "missing submitted date",
			dueAt:     &due,
			submitted: nil,
			rules:     tieredRules(15),
			want:      models.LatenessVerdict{},
		},
		{
			name:      "on time",
			dueAt:     &due,
			submitted: at(due, -30),
			rules:     tieredRules(0),
			want:      models.LatenessVerdict{},
		},
		{
			name:      "exactly at due time",
			dueAt:     &due,
			submitted: &due,
			rules:     tieredRules(0),
			want:      models.LatenessVerdict{},
		},
		{
			name:      "report only without rules",
			dueAt:     &due,
			submitted: at(due, 125),
			rules:     nil,
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 125},
		},
		{
			name:      "grace boundary absorbs",
			dueAt:     &due,
			submitted: at(due, 15),
			rules:     tieredRules(15),
			want:      models.LatenessVerdict{LateMinutes: 15, GraceApplied: true},
		},
		{
			name:      "one minute past grace",
			dueAt:     &due,
			submitted: at(due, 16),
			rules:     tieredRules(15),
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 16, PenaltyPercent: 10},
		},
		{
			name:      "first tier",
			dueAt:     &due,
			submitted: at(due, 10*60),
			rules:     tieredRules(0),
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 600, PenaltyPercent: 10},
		},
		{
			name:      "second tier",
			dueAt:     &due,
			submitted: at(due, 30*60),
			rules:     tieredRules(0),
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 1800, PenaltyPercent: 30},
		},
		{
			name:      "tier upper bound is inclusive",
			dueAt:     &due,
			submitted: at(due, 24*60),
			rules:     tieredRules(0),
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 1440, PenaltyPercent: 10},
		},
		{
			name:      "beyond every tier",
			dueAt:     &due,
			submitted: at(due, 200*60),
			rules:     tieredRules(0),
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 12000},
		},
		{
			name:      "empty rule set",
			dueAt:     &due,
			submitted: at(due, 5),
			rules:     &models.LateRuleSet{},
			want:      models.LatenessVerdict{IsLate: true, LateMinutes: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeLateness(tt.dueAt, tt.submitted, tt.rules))
		})
	}
}

func TestComputeLateness_FloorsPartialMinutes(t *testing.T) {
	submitted := due.Add(2*time.Minute + 59*time.Second)
	got := ComputeLateness(&due, &submitted, nil)
	assert.Equal(t, 2, got.LateMinutes)

	early := due.Add(30 * time.Second)
	got = ComputeLateness(&due, &early, nil)
	assert.False(t, got.IsLate)
	assert.Equal(t, 0, got.LateMinutes)
}

func TestComputeLateness_TiersInDeclaredOrder(t *testing.T) {
	rules := &models.LateRuleSet{
		Tiers: []models.LateTier{
			{MaxHours: 72, PenaltyPercent: 30},
			{MaxHours: 24, PenaltyPercent: 10},
		},
	}
	got := ComputeLateness(&due, at(due, 5*60), rules)
	assert.Equal(t, 30, got.PenaltyPercent)
}

func TestParseTimestamp(t *testing.T) {
	ts := ParseTimestamp("2026-03-01T23:59:00Z")
	require.NotNil(t, ts)
	assert.True(t, ts.Equal(due))

	offset := ParseTimestamp("2026-03-02T01:59:00+02:00")
	require.NotNil(t, offset)
	assert.True(t, offset.Equal(due))

	assert.Nil(t, ParseTimestamp("2026-03-01T23:59:00"))
	assert.Nil(t, ParseTimestamp("2026-03-01"))
	assert.Nil(t, ParseTimestamp(""))
	assert.Nil(t, ParseTimestamp("   "))
	assert.Nil(t, ParseTimestamp("yesterday"))
}

func TestParseRuleSet(t *testing.T) {
	rules, err := ParseRuleSet(`{"grace_minutes": 10, "tiers": [{"max_hours": 24, "penalty_percent": 10}, {"penalty_percent": 50}]}`)
	require.NoError(t, err)
	require.NotNil(t, rules)
	assert.Equal(t, 10, rules.GraceMinutes)
	require.Len(t, rules.Tiers, 2)
	assert.Equal(t, models.LateTier{MaxHours: 24, PenaltyPercent: 10}, rules.Tiers[0])
	assert.Equal(t, float64(defaultTierMaxHours), rules.Tiers[1].MaxHours)

	empty, err := ParseRuleSet("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, bad := range []string{
		`{not json`,
		`{"grace_minutes": -1}`,
		`{"tiers": [{"max_hours": 5, "penalty_percent": 120}]}`,
		`{"tiers": [{"max_hours": -2, "penalty_percent": 10}]}`,
	} {
		_, err := ParseRuleSet(bad)
		assert.Error(t, err, bad)
	}
}

func TestEngine_Evaluate(t *testing.T) {
	engine := NewEngine(tieredRules(0))

	got := engine.Evaluate("2026-03-01T23:59:00Z", "2026-03-03T05:59:00Z")
	assert.Equal(t, models.LatenessVerdict{IsLate: true, LateMinutes: 1800, PenaltyPercent: 30}, got)

	assert.Equal(t, models.LatenessVerdict{}, engine.Evaluate("", "2026-03-03T05:59:00Z"))
	assert.Equal(t, models.LatenessVerdict{}, engine.Evaluate("2026-03-01T23:59:00Z", "garbage"))
}

func TestComputeLateness_ZonelessSubmissionIsAbsent(t *testing.T) {
	submitted := ParseTimestamp("2026-03-02T09:00:00")
	got := ComputeLateness(&due, submitted, &models.LateRuleSet{})
	assert.False(t, got.IsLate)
	assert.Zero(t, got.LateMinutes)
	assert.Zero(t, got.PenaltyPercent)
}
