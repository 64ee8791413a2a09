package server

import (
	"math"

	"github.com/ductware/ZEPHYR/internal/optimization"
)

// Bundle is a named set of evaluation functions plus the base system
// configuration they operate on. Bundles stand in for the external system
// performance evaluator: domain deployments register their own, and the
// built-in ones below exist for demos and smoke tests.
type Bundle struct {
	Name        string
	Description string
	Objectives  []optimization.Objective
	Constraints []optimization.Constraint
	BaseConfig  optimization.SystemConfig
	Mapper      optimization.ConfigMapper
}

// BuiltinBundles returns the bundles registered by default.
func BuiltinBundles() []Bundle {
	return []Bundle{quadraticBundle(), ductBundle()}
}

// quadraticBundle is a convex single-objective benchmark: minimize the sum
// of squared variable values.
func quadraticBundle() Bundle {
	return Bundle{
		Name:        "quadratic",
		Description: "convex benchmark: minimize sum of squares",
		Objectives: []optimization.Objective{{
			ID:     "sum_squares",
			Sense:  optimization.Minimize,
			Weight: 1,
			Eval: func(vars map[string]float64, _ optimization.SystemConfig) (float64, error) {
				sum := 0.0
				for _, v := range vars {
					sum += v * v
				}
				return sum, nil
			},
		}},
	}
}

// ductBundle is a simplified round-duct sizing problem trading pressure
// loss against installed cost, with a velocity limit. The formulas are demo
// stand-ins; production deployments register evaluators backed by the real
// duct physics.
func ductBundle() Bundle {
	base := optimization.SystemConfig{
		"airflow_m3s":    1.0,
		"length_m":       20.0,
		"friction":       0.02,
		"air_density":    1.2,
		"cost_per_m2":    map[string]interface{}{"galvanized": 35.0, "stainless": 110.0, "flexible": 18.0},
		"velocity_limit": 10.0,
	}

	mapper := func(cfg optimization.SystemConfig, vars map[string]float64) {
		cfg["diameter_m"] = vars["diameter"]
	}

	velocity := func(cfg optimization.SystemConfig) float64 {
		d := cfg["diameter_m"].(float64)
		q := cfg["airflow_m3s"].(float64)
		area := math.Pi * d * d / 4
		return q / area
	}

	return Bundle{
		Name:        "duct",
		Description: "round duct sizing: pressure loss vs installed cost with a velocity limit",
		BaseConfig:  base,
		Mapper:      mapper,
		Objectives: []optimization.Objective{
			{
				ID:     "pressure_loss",
				Sense:  optimization.Minimize,
				Weight: 0.5,
				Units:  "Pa",
				Eval: func(_ map[string]float64, cfg optimization.SystemConfig) (float64, error) {
					d := cfg["diameter_m"].(float64)
					v := velocity(cfg)
					f := cfg["friction"].(float64)
					rho := cfg["air_density"].(float64)
					l := cfg["length_m"].(float64)
					// Darcy-Weisbach for a straight round run.
					return f * (l / d) * rho * v * v / 2, nil
				},
			},
			{
				ID:     "install_cost",
				Sense:  optimization.Minimize,
				Weight: 0.5,
				Units:  "USD",
				Eval: func(vars map[string]float64, cfg optimization.SystemConfig) (float64, error) {
					d := cfg["diameter_m"].(float64)
					l := cfg["length_m"].(float64)
					rates := cfg["cost_per_m2"].(map[string]interface{})
					rate := rates["galvanized"].(float64)
					if m, ok := vars["material"]; ok {
						names := []string{"galvanized", "stainless", "flexible"}
						i := int(m)
						if i >= 0 && i < len(names) {
							rate = rates[names[i]].(float64)
						}
					}
					return math.Pi * d * l * rate, nil
				},
			},
		},
		Constraints: []optimization.Constraint{{
			ID:   "velocity_limit",
			Kind: optimization.Inequality,
			Eval: func(_ map[string]float64, cfg optimization.SystemConfig) (float64, error) {
				return velocity(cfg) - cfg["velocity_limit"].(float64), nil
			},
		}},
	}
}
