package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, PlanStarter, Normalize(" Starter "))
	assert.Equal(t, PlanProfessional, Normalize("PROFESSIONAL"))
	assert.Equal(t, PlanEnterprise, Normalize("enterprise"))
	assert.Equal(t, PlanNone, Normalize(""))
	assert.Equal(t, PlanNone, Normalize("legacy-plan"))
}

func TestPlanLimits(t *testing.T) {
	assert.Equal(t, 500, MonthlyCallMinutes(PlanStarter))
	assert.Equal(t, 2000, MonthlyCallMinutes(PlanProfessional))
	assert.Equal(t, -1, MonthlyCallMinutes(PlanEnterprise))
	assert.Equal(t, 0, MonthlyCallMinutes(PlanNone))

	assert.Equal(t, 1, ConcurrentLines(PlanStarter))
	assert.Equal(t, 3, ConcurrentLines(PlanProfessional))
	assert.Equal(t, 10, ConcurrentLines(PlanEnterprise))
	assert.Equal(t, 0, ConcurrentLines(PlanNone))

	assert.False(t, PrioritySupport(PlanStarter))
	assert.True(t, PrioritySupport(PlanProfessional))
	assert.True(t, PrioritySupport(PlanEnterprise))
	assert.False(t, PrioritySupport(PlanNone))
}
