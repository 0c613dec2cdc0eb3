package cost

type CostConfiguration struct {
	CostType   string     `mapstructure:"type" json:"costType"`
	Source     CostSource `mapstructure:"source" json:"costSource"`
	Budget     float64    `mapstructure:"budget" json:"budget"`
	TargetLoss float64    `mapstructure:"target_loss" json:"targetLoss"`
	UnitCost   float64    `mapstructure:"unit_cost" json:"unitCost"`
}

const None_CostType = ""
const TotalBudget_CostType = "totalBudget"
const CostMinimization_CostType = "costMin"
