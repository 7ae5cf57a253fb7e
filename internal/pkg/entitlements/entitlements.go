package entitlements

import "strings"

type Plan string

const (
	PlanNone         Plan = "none"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// MonthlyCallMinutes returns the intake minutes included per month for a
// given plan. 0 means no minutes (no entitling subscription), -1 unlimited.
func MonthlyCallMinutes(plan Plan) int {
	switch plan {
	case PlanEnterprise:
		return -1
	case PlanProfessional:
		return 2000
	case PlanStarter:
		return 500
	default:
		return 0
	}
}

// ConcurrentLines returns how many simultaneous intake calls the plan covers.
func ConcurrentLines(plan Plan) int {
	switch plan {
	case PlanEnterprise:
		return 10
	case PlanProfessional:
		return 3
	case PlanStarter:
		return 1
	default:
		return 0
	}
}

// PrioritySupport reports whether the plan includes priority support.
func PrioritySupport(plan Plan) bool {
	return plan == PlanProfessional || plan == PlanEnterprise
}

// Normalize maps a stored plan name to a known plan, defaulting to none.
func Normalize(name string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(name))) {
	case PlanStarter:
		return PlanStarter
	case PlanProfessional:
		return PlanProfessional
	case PlanEnterprise:
		return PlanEnterprise
	default:
		return PlanNone
	}
}
