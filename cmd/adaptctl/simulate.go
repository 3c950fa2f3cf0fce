package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/reward"
	"github.com/fractal-lba/adaptive/internal/state"
	"github.com/fractal-lba/adaptive/internal/strategy"
	"github.com/fractal-lba/adaptive/pkg/logger"
)

type simulateOptions struct {
	steps        int
	seed         uint64
	policy       string
	exploration  float64
	maintainEach int
}

func simulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the engine against synthetic users",
		Long: `Drives a fresh engine through generate, apply and feedback cycles for
synthetic users with hidden preferences, then prints the engine metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := runSimulation(cmd.Context(), opts, newLogger())
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}

	cmd.Flags().IntVar(&opts.steps, "steps", 1000, "Number of adaptation cycles")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Random seed for users and learners")
	cmd.Flags().StringVar(&opts.policy, "policy", string(engine.PolicyQLearning), "Selection policy")
	cmd.Flags().Float64Var(&opts.exploration, "exploration", 0.1, "Initial exploration rate")
	cmd.Flags().IntVar(&opts.maintainEach, "maintain-every", 10, "Run maintenance every N cycles")
	return cmd
}

// syntheticUser has a hidden preferred action per frustration band.
type syntheticUser struct {
	frustration float64
	engagement  float64
	complexity  float64
}

func (u syntheticUser) context() state.Context {
	return state.Context{
		Frustration: state.Float(u.frustration),
		Engagement:  state.Float(u.engagement),
		Complexity:  state.Float(u.complexity),
		TimeOfDay:   state.Float(0.5),
	}
}

func (u syntheticUser) preferred() strategy.Action {
	switch {
	case u.frustration > 0.6:
		return strategy.Action{Strategy: strategy.ResponseStyle, Option: "concise"}
	case u.complexity > 0.6:
		return strategy.Action{Strategy: strategy.AssistanceLevel, Option: "comprehensive"}
	default:
		return strategy.Action{Strategy: strategy.CodeStyle, Option: "functional"}
	}
}

// react scores action the way this user would.
func (u syntheticUser) react(a strategy.Action, rng *rand.Rand) reward.Feedback {
	fb := reward.Feedback{Context: u.context()}
	switch {
	case a == u.preferred():
		fb.Success = true
		fb.UserSatisfied = rng.Float64() < 0.8
		fb.TaskCompleted = rng.Float64() < 0.5
	case a.Strategy == u.preferred().Strategy:
		fb.Success = rng.Float64() < 0.5
	default:
		fb.Error = rng.Float64() < 0.3
		fb.UserFrustrated = u.frustration > 0.6
		fb.Abandoned = rng.Float64() < 0.05
	}
	return fb
}

func runSimulation(ctx context.Context, opts simulateOptions, log *logger.Logger) (engine.Metrics, error) {
	if opts.steps <= 0 {
		return engine.Metrics{}, fmt.Errorf("steps must be positive, got %d", opts.steps)
	}
	policy, err := engine.ParsePolicy(opts.policy)
	if err != nil {
		return engine.Metrics{}, err
	}

	cfg := engine.DefaultConfig()
	cfg.Policy = policy
	cfg.Seed = opts.seed
	cfg.InitialExploration = opts.exploration
	eng, err := engine.New(cfg, engine.WithLogger(log))
	if err != nil {
		return engine.Metrics{}, err
	}
	defer eng.Stop()
	eng.Executors().SetFallback(strategy.Acknowledge())

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	bands := []float64{0.1, 0.5, 0.9}

	for i := 0; i < opts.steps; i++ {
		if err := ctx.Err(); err != nil {
			return engine.Metrics{}, err
		}
		u := syntheticUser{
			frustration: bands[rng.IntN(len(bands))],
			engagement:  bands[rng.IntN(len(bands))],
			complexity:  bands[rng.IntN(len(bands))],
		}
		ad, err := eng.Generate(ctx, u.context(), nil)
		if err != nil {
			return engine.Metrics{}, err
		}
		if res := eng.Apply(ctx, ad); !res.Success {
			log.Warn("apply failed", "adaptation_id", ad.ID, "error", res.Error)
			continue
		}
		fb := u.react(ad.Action, rng)
		fb.Terminal = true
		eng.Feedback(ctx, ad.ID, fb)

		if opts.maintainEach > 0 && (i+1)%opts.maintainEach == 0 {
			eng.Maintain(ctx)
		}
	}
	return eng.Metrics(), nil
}
