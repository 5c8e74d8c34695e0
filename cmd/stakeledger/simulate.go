package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"StakeLedger/internal/core"
	"StakeLedger/internal/event"
	"StakeLedger/internal/ledger"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// simNamespace derives stable ids from scenario names.
var simNamespace = uuid.MustParse("6f1c3a52-9b7e-4d0a-8c41-2e5d7f9a0b13")

// Scenario is a YAML script of events run against an in-memory core.
// Entities are referred to by name; source sequences are assigned per pool
// in script order.
type Scenario struct {
	Name string `yaml:"name"`
	// Until is when pending rewards are evaluated; defaults to the last
	// event time.
	Until  int64          `yaml:"until"`
	Events []ScenarioStep `yaml:"events"`
}

// ScenarioStep is one event. Which fields apply depends on Type.
type ScenarioStep struct {
	Type          string `yaml:"type"`
	At            int64  `yaml:"at"`
	ID            string `yaml:"id"`
	Pool          string `yaml:"pool"`
	Position      string `yaml:"position"`
	Owner         string `yaml:"owner"`
	Admin         string `yaml:"admin"`
	ShareAsset    string `yaml:"share_asset"`
	RewardAsset   string `yaml:"reward_asset"`
	ShareDecimals uint8  `yaml:"share_decimals"`
	Rate          uint64 `yaml:"rate"`
	ReleaseTime   int64  `yaml:"release_time"`
	Asset         string `yaml:"asset"`
	Amount        uint64 `yaml:"amount"`
}

// SimulationReport is the outcome of a scenario.
type SimulationReport struct {
	Scenario     string           `json:"scenario"`
	Until        int64            `json:"until"`
	Applied      int              `json:"applied"`
	Duplicates   int              `json:"duplicates"`
	Rejected     []Rejection      `json:"rejected"`
	LastSequence int64            `json:"last_sequence"`
	Pools        []PoolReport     `json:"pools"`
	Positions    []PositionReport `json:"positions"`
}

type Rejection struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type PoolReport struct {
	Name                string `json:"name"`
	StakedTotal         uint64 `json:"staked_total"`
	RewardBalance       uint64 `json:"reward_balance"`
	RewardRatePerSecond uint64 `json:"reward_rate_per_second"`
	Accumulator         string `json:"accumulator"`
	LastUpdateTime      int64  `json:"last_update_time"`
}

type PositionReport struct {
	Name        string `json:"name"`
	Pool        string `json:"pool"`
	Amount      uint64 `json:"amount"`
	RewardDebt  string `json:"reward_debt"`
	RewardsPaid int64  `json:"rewards_paid"`
	Pending     uint64 `json:"pending"`
}

// NewSimulateCommand runs a scenario file and prints the report as JSON.
func NewSimulateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scenario against an in-memory ledger and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			scn, err := LoadScenario(data)
			if err != nil {
				return err
			}
			logger := observability.NewLoggerTo(cmd.ErrOrStderr(), "simulate", zerolog.WarnLevel)
			report, err := RunScenario(scn, logger)
			if err != nil {
				return err
			}
			return WriteReport(cmd.OutOrStdout(), report)
		},
	}
}

// LoadScenario parses a scenario document.
func LoadScenario(data []byte) (*Scenario, error) {
	var scn Scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(scn.Events) == 0 {
		return nil, errors.New("scenario has no events")
	}
	return &scn, nil
}

// WriteReport renders r as indented JSON.
func WriteReport(w io.Writer, r *SimulationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type simulation struct {
	core      *core.DeterministicCore
	seqs      map[string]int64
	pools     []string
	positions []string
	posPool   map[string]string
	assets    map[string][2]string // pool -> share, reward
}

// RunScenario applies every step in order. Rejected events are reported,
// not returned; an error means the scenario itself is malformed.
func RunScenario(scn *Scenario, logger zerolog.Logger) (*SimulationReport, error) {
	sim := &simulation{
		core:    core.NewDeterministicCore(1, nil, nil, nil, nil, logger),
		seqs:    make(map[string]int64),
		posPool: make(map[string]string),
		assets:  make(map[string][2]string),
	}
	report := &SimulationReport{Scenario: scn.Name, Until: scn.Until, Rejected: []Rejection{}}

	for i, step := range scn.Events {
		evt, err := sim.build(step)
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", i, step.Type, err)
		}

		before := sim.core.GetSequence()
		if err := sim.core.ProcessEvent(evt); err != nil {
			report.Rejected = append(report.Rejected, Rejection{Index: i, Type: step.Type, Reason: rejectionReason(err)})
			continue
		}
		if sim.core.GetSequence() == before {
			report.Duplicates++
			continue
		}
		report.Applied++
	}

	if report.Until == 0 {
		for _, step := range scn.Events {
			report.Until = max(report.Until, step.At)
		}
	}
	report.LastSequence = sim.core.GetSequence() - 1
	for _, name := range sim.pools {
		rec, ok := sim.core.Pool(sim.id("pool", name))
		if !ok {
			continue
		}
		report.Pools = append(report.Pools, PoolReport{
			Name:                name,
			StakedTotal:         rec.StakedTotal,
			RewardBalance:       rec.RewardBalance,
			RewardRatePerSecond: rec.RewardRatePerSecond,
			Accumulator:         rec.Accumulator,
			LastUpdateTime:      rec.LastUpdateTime,
		})
	}
	for _, name := range sim.positions {
		id := sim.id("position", name)
		rec, ok := sim.core.Position(id)
		if !ok {
			continue
		}
		pending, err := sim.core.Pending(id, report.Until)
		if err != nil {
			return nil, fmt.Errorf("pending for %s: %w", name, err)
		}
		report.Positions = append(report.Positions, PositionReport{
			Name:        name,
			Pool:        sim.posPool[name],
			Amount:      rec.Amount,
			RewardDebt:  rec.RewardDebt,
			RewardsPaid: sim.core.PositionRewardsPaid(id),
			Pending:     pending,
		})
	}
	return report, nil
}

func (s *simulation) id(kind, name string) uuid.UUID {
	return uuid.NewSHA1(simNamespace, []byte(kind+":"+name))
}

func (s *simulation) nextSeq(pool string) int64 {
	s.seqs[pool]++
	return s.seqs[pool]
}

func (s *simulation) build(st ScenarioStep) (event.Event, error) {
	if st.Pool == "" {
		return nil, errors.New("pool is required")
	}
	poolID := s.id("pool", st.Pool)

	switch st.Type {
	case "PoolCreated":
		if _, seen := s.assets[st.Pool]; !seen {
			s.pools = append(s.pools, st.Pool)
			s.assets[st.Pool] = [2]string{st.ShareAsset, st.RewardAsset}
		}
		return &event.PoolCreated{
			Pool:                poolID,
			AdminCapID:          s.id("admin", st.Admin),
			ShareAsset:          st.ShareAsset,
			RewardAsset:         st.RewardAsset,
			ShareDecimals:       st.ShareDecimals,
			RewardRatePerSecond: st.Rate,
			ReleaseTime:         st.ReleaseTime,
			Sequence:            s.nextSeq(st.Pool),
			Timestamp:           st.At,
		}, nil

	case "PositionOpened":
		if st.Position == "" {
			return nil, errors.New("position is required")
		}
		owner := st.Owner
		if owner == "" {
			owner = st.Position
		}
		if _, seen := s.posPool[st.Position]; !seen {
			s.positions = append(s.positions, st.Position)
			s.posPool[st.Position] = st.Pool
		}
		return &event.PositionOpened{
			PositionID: s.id("position", st.Position),
			Pool:       poolID,
			Owner:      s.id("owner", owner),
			Sequence:   s.nextSeq(st.Pool),
			Timestamp:  st.At,
		}, nil

	case "Staked":
		asset := st.Asset
		if asset == "" {
			asset = s.assets[st.Pool][0]
		}
		return &event.Staked{
			StakeID:    s.id("stake", st.ID),
			PositionID: s.id("position", st.Position),
			Pool:       poolID,
			Asset:      asset,
			Amount:     st.Amount,
			Sequence:   s.nextSeq(st.Pool),
			Timestamp:  st.At,
		}, nil

	case "Unstaked":
		return &event.Unstaked{
			UnstakeID:  s.id("unstake", st.ID),
			PositionID: s.id("position", st.Position),
			Pool:       poolID,
			Amount:     st.Amount,
			Sequence:   s.nextSeq(st.Pool),
			Timestamp:  st.At,
		}, nil

	case "RewardFunded":
		asset := st.Asset
		if asset == "" {
			asset = s.assets[st.Pool][1]
		}
		return &event.RewardFunded{
			FundingID: s.id("funding", st.ID),
			Pool:      poolID,
			Funder:    s.id("owner", st.Owner),
			Asset:     asset,
			Amount:    st.Amount,
			Sequence:  s.nextSeq(st.Pool),
			Timestamp: st.At,
		}, nil

	case "RewardRateUpdated":
		return &event.RewardRateUpdated{
			UpdateID:            s.id("rate", st.ID),
			Pool:                poolID,
			AdminCapID:          s.id("admin", st.Admin),
			RewardRatePerSecond: st.Rate,
			Sequence:            s.nextSeq(st.Pool),
			Timestamp:           st.At,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", event.ErrUnknownEventType, st.Type)
}

var rejectionReasons = []error{
	state.ErrInvalidReleaseTime,
	state.ErrAccountPoolMismatch,
	state.ErrInsufficientStakedAmount,
	state.ErrUnauthorized,
	state.ErrAssetMismatch,
	state.ErrArithmeticDefect,
	state.ErrPoolNotFound,
	state.ErrPoolExists,
	state.ErrPositionNotFound,
	state.ErrPositionExists,
	ledger.ErrAmountOutOfRange,
	core.ErrSequenceGap,
	core.ErrOutOfOrder,
}

// rejectionReason reduces a core error to its rule, leaving out ids.
func rejectionReason(err error) string {
	for _, reason := range rejectionReasons {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return err.Error()
}
