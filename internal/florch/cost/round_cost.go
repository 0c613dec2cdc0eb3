package cost

import (
	"fmt"
	"math"
)

// GetGlobalRoundCost prices one round. Communication counts the broadcast and
// the upload of every client's parameter vector; energy counts the examples
// each client processes during its local epochs.
func GetGlobalRoundCost(source CostSource, numParams int, clientExamples []int, epochs int, unitCost float64) float64 {
	if unitCost == 0 {
		unitCost = 1
	}

	if source == COMMUNICATION {
		return 2 * float64(len(clientExamples)) * float64(numParams) * unitCost
	}

	processed := 0
	for _, examples := range clientExamples {
		processed += epochs * examples
	}
	return float64(processed) * unitCost
}

// Validate checks the cost type and the limits it depends on.
func (config CostConfiguration) Validate() error {
	switch config.CostType {
	case None_CostType:
	case TotalBudget_CostType:
		if !(config.Budget > 0) || math.IsInf(config.Budget, 0) {
			return fmt.Errorf("budget must be positive for %s, got %v", config.CostType, config.Budget)
		}
	case CostMinimization_CostType:
		if math.IsNaN(config.TargetLoss) || config.TargetLoss < 0 {
			return fmt.Errorf("target loss must be >= 0 for %s, got %v", config.CostType, config.TargetLoss)
		}
	default:
		return fmt.Errorf("unknown cost type %q", config.CostType)
	}
	if config.UnitCost < 0 {
		return fmt.Errorf("unit cost must be >= 0, got %v", config.UnitCost)
	}
	return nil
}

// CanAfford reports whether a round costing roundCost still fits the budget.
func (config CostConfiguration) CanAfford(spent, roundCost float64) bool {
	if config.CostType != TotalBudget_CostType {
		return true
	}
	return spent+roundCost <= config.Budget
}

// TargetReached reports whether a cost-minimisation run may stop at loss.
func (config CostConfiguration) TargetReached(loss float64) bool {
	return config.CostType == CostMinimization_CostType && loss <= config.TargetLoss
}
