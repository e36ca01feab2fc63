package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-pots-must-flow/internal/balance"
	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/monzo"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
	"github.com/Veraticus/the-pots-must-flow/internal/testutil"
)

// Wednesday 25 March 2026, 09:00 UTC.
var testNow = time.Date(2026, 3, 25, 9, 0, 0, 0, time.UTC)

func pence(v int64) *money.Money {
	m := money.FromMinor(v)
	return &m
}

func newTestEngine(t *testing.T, bank *monzo.MockClient, now time.Time) (*Engine, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	config := DefaultConfig()
	config.Now = func() time.Time { return now }
	return NewWithConfig(db.Storage, db.Storage, bank, config), db
}

func monthlyOn(day int) model.TriggerConfig {
	return model.TriggerConfig{Kind: model.TriggerMonthly, DayOfMonth: day}
}

func manual() model.TriggerConfig {
	return model.TriggerConfig{Kind: model.TriggerManual}
}

func TestEngine_SweepHonoursPriorityAndSkips(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(100000)).
		AddPot("target", money.Zero).
		AddPot("savings", money.FromMinor(20000)).
		AddPot("empty", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: monthlyOn(25),
		Sources: []model.SweepSource{
			{Source: model.Pot("savings"), Strategy: model.StrategyRemainingBalance, MinBalance: pence(5000), Priority: 2},
			{Source: model.Pot("empty"), Strategy: model.StrategyAllAvailable, Priority: 3},
			{Source: model.MainAccount(""), Strategy: model.StrategyFixedAmount, Amount: pence(10000), Priority: 1},
		},
	})

	result, err := eng.EvaluateAndExecute(context.Background(), "sweep")
	require.NoError(t, err)

	assert.True(t, result.Fired)
	assert.Equal(t, model.StatusSucceeded, result.Status)
	require.Len(t, result.Outcomes, 3)

	assert.Equal(t, model.MainAccount(""), result.Outcomes[0].From)
	assert.Equal(t, model.OutcomeSucceeded, result.Outcomes[0].Status)
	assert.Equal(t, int64(10000), result.Outcomes[0].Amount.Minor())

	assert.Equal(t, model.Pot("savings"), result.Outcomes[1].From)
	assert.Equal(t, int64(15000), result.Outcomes[1].Amount.Minor())
	assert.Equal(t, model.ProvenanceLive, result.Outcomes[1].Provenance)

	assert.Equal(t, model.OutcomeSkipped, result.Outcomes[2].Status)
	assert.Equal(t, "nothing to move", result.Outcomes[2].Reason)

	assert.Equal(t, int64(25000), result.TotalMoved.Minor())
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, int64(25000), bank.Balance(model.Pot("target")).Minor())
	assert.Equal(t, int64(5000), bank.Balance(model.Pot("savings")).Minor())
	assert.Equal(t, int64(-10000), result.BalanceDeltas["main"].Minor())

	calls := bank.GetTransferCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, DedupKey("sweep", model.MainAccount(""), model.Pot("target"), "2026-03"), calls[0].DedupKey)

	rule, err := db.Storage.GetRule(context.Background(), "sweep")
	require.NoError(t, err)
	require.NotNil(t, rule.LastExecuted)
	assert.True(t, rule.LastExecuted.Equal(testNow))

	history, err := db.Storage.ListExecutionResults(context.Background(), "sweep", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, result.ID, history[0].ID)
}

func TestEngine_SweepBelowMinimumTransfer(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(450)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:      model.Pot("target"),
		Trigger:     manual(),
		MinTransfer: pence(500),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyAllAvailable},
		},
	})

	result, err := eng.ExecuteNow(context.Background(), "sweep")
	require.NoError(t, err)

	assert.Equal(t, model.StatusSkipped, result.Status)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "below minimum transfer of £5.00", result.Outcomes[0].Reason)
	assert.Empty(t, bank.GetTransferCalls())
}

func TestEngine_PartialFailureReleasesKey(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).
		AddPot("target", money.Zero).
		AddPot("flaky", money.FromMinor(5000))
	bank.TransferFunc = func(_ context.Context, req service.TransferRequest) error {
		if req.From == model.Pot("flaky") {
			return common.ErrAPI
		}
		return nil
	}
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.Pot("flaky"), Strategy: model.StrategyAllAvailable, Priority: 1},
			{Source: model.MainAccount(""), Strategy: model.StrategyFixedAmount, Amount: pence(1000), Priority: 2},
		},
	})

	ctx := context.Background()
	result, err := eng.ExecuteNow(ctx, "sweep")
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartial, result.Status)
	assert.Equal(t, 1, result.Errored)
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "pot flaky")

	failedKey := result.Outcomes[0].DedupKey
	seen, err := db.Storage.Seen(ctx, failedKey)
	require.NoError(t, err)
	assert.False(t, seen, "failed transfer must release its key")

	seen, err = db.Storage.Seen(ctx, result.Outcomes[1].DedupKey)
	require.NoError(t, err)
	assert.True(t, seen)

	rule, err := db.Storage.GetRule(ctx, "sweep")
	require.NoError(t, err)
	assert.NotNil(t, rule.LastExecuted)
}

func TestEngine_FailedRunKeepsWindowOpen(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	bank.TransferFunc = func(context.Context, service.TransferRequest) error {
		return common.ErrAPI
	}
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: monthlyOn(25),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyAllAvailable},
		},
	})

	ctx := context.Background()
	result, err := eng.EvaluateAndExecute(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)

	rule, err := db.Storage.GetRule(ctx, "sweep")
	require.NoError(t, err)
	assert.Nil(t, rule.LastExecuted)

	// The bank recovers and the same window is retried.
	bank.TransferFunc = nil
	result, err = eng.EvaluateAndExecute(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, result.Status)
	assert.Equal(t, int64(10000), bank.Balance(model.Pot("target")).Minor())
}

func TestEngine_DuplicateWindowDoesNotTransferTwice(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyFixedAmount, Amount: pence(1000)},
		},
	})

	ctx := context.Background()
	first, err := eng.ExecuteNow(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, first.Outcomes[0].Status)

	second, err := eng.ExecuteNow(ctx, "sweep")
	require.NoError(t, err)
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, model.OutcomeDuplicate, second.Outcomes[0].Status)
	assert.Equal(t, model.StatusSucceeded, second.Status)
	assert.True(t, second.TotalMoved.IsZero())

	assert.Len(t, bank.GetTransferCalls(), 1)
	assert.Equal(t, int64(1000), bank.Balance(model.Pot("target")).Minor())

	// A preview in the same window reports the duplicate too.
	preview, err := eng.PreviewNow(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, preview.Outcomes[0].Status)
}

func TestEngine_DryRunNeverTransfers(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: monthlyOn(25),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyPercentage, Percentage: func() *float64 { v := 0.25; return &v }()},
		},
	})

	ctx := context.Background()
	result, err := eng.DryRun(ctx, "sweep")
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.True(t, result.Fired)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, model.OutcomePlanned, result.Outcomes[0].Status)
	assert.Equal(t, int64(2500), result.TotalMoved.Minor())

	assert.Empty(t, bank.GetTransferCalls())
	assert.Equal(t, int64(10000), bank.Balance(model.MainAccount("")).Minor())

	history, err := db.Storage.ListExecutionResults(ctx, "sweep", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	rule, err := db.Storage.GetRule(ctx, "sweep")
	require.NoError(t, err)
	assert.Nil(t, rule.LastExecuted)

	seen, err := db.Storage.Seen(ctx, result.Outcomes[0].DedupKey)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEngine_DryRunRespectsTrigger(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: monthlyOn(1),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyAllAvailable},
		},
	})

	ctx := context.Background()
	result, err := eng.DryRun(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFired, result.Status)
	assert.Empty(t, result.Outcomes)

	preview, err := eng.PreviewNow(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, "manual execution", preview.TriggerReason)
	assert.Equal(t, model.OutcomePlanned, preview.Outcomes[0].Status)
	assert.Empty(t, bank.GetTransferCalls())
}

func TestEngine_InvalidConfigIsRejected(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000))
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("broken", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.MainAccount(""),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.Pot("a"), Strategy: model.StrategyAllAvailable},
		},
	})

	tests := []struct {
		name string
		run  func(context.Context, string) (*model.ExecutionResult, error)
	}{
		{"evaluate", eng.EvaluateAndExecute},
		{"dry run", eng.DryRun},
		{"execute now", eng.ExecuteNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.run(context.Background(), "broken")
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrConfiguration))
			require.NotNil(t, result)
			assert.Equal(t, model.StatusRejected, result.Status)
			assert.NotEmpty(t, result.Errors)
		})
	}

	_, _, err := eng.ShouldFireNow(context.Background(), "broken")
	assert.ErrorIs(t, err, common.ErrConfiguration)
	assert.Empty(t, bank.GetTransferCalls())
}

func TestEngine_UnknownRule(t *testing.T) {
	eng, _ := newTestEngine(t, monzo.NewMockClient(money.Zero), testNow)

	_, err := eng.EvaluateAndExecute(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_DisabledRuleDoesNotFire(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyAllAvailable},
		},
	})
	ctx := context.Background()
	require.NoError(t, db.Storage.SetRuleEnabled(ctx, "sweep", false))

	result, err := eng.ExecuteNow(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFired, result.Status)
	assert.Equal(t, "rule is disabled", result.TriggerReason)
	assert.Empty(t, bank.GetTransferCalls())
}

func TestEngine_StaleBalanceFallback(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero).
		AddPot("target", money.Zero).
		AddPot("savings", money.FromMinor(40000))
	bank.PotBalanceFunc = func(_ context.Context, potID string) (money.Money, error) {
		if potID == "savings" || potID == "ghost" {
			return money.Zero, common.ErrAPI
		}
		return bank.Balance(model.Pot(potID)), nil
	}
	eng, db := newTestEngine(t, bank, testNow)

	ctx := context.Background()
	require.NoError(t, db.Storage.PutCachedBalance(ctx, model.BalanceSnapshot{
		Ref:        model.Pot("savings"),
		Amount:     money.FromMinor(40000),
		Provenance: model.ProvenanceLive,
		FetchedAt:  testNow.Add(-2 * time.Hour),
	}))

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.Pot("savings"), Strategy: model.StrategyAllAvailable, Priority: 1},
			{Source: model.Pot("ghost"), Strategy: model.StrategyAllAvailable, Priority: 2},
		},
	})

	result, err := eng.ExecuteNow(ctx, "sweep")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	assert.Equal(t, model.OutcomeSucceeded, result.Outcomes[0].Status)
	assert.Equal(t, model.ProvenanceStale, result.Outcomes[0].Provenance)
	assert.Equal(t, int64(40000), result.Outcomes[0].Amount.Minor())

	assert.Equal(t, model.OutcomeErrored, result.Outcomes[1].Status)
	assert.Contains(t, result.Outcomes[1].Reason, common.ErrBalanceUnavailable.Error())
	assert.Equal(t, model.StatusPartial, result.Status)
}

func TestEngine_PaydayConsumesTransaction(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(300000)).AddPot("savings", money.Zero)
	bank.Transactions = []model.Transaction{
		{ID: "tx_coffee", CreatedAt: testNow.Add(-3 * time.Hour), Amount: money.FromMinor(-350), Description: "Coffee"},
		{ID: "tx_salary", CreatedAt: testNow.Add(-2 * time.Hour), Amount: money.FromMinor(250000), Description: "ACME LTD PAYROLL"},
	}
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("payday", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("savings"),
		Trigger: model.TriggerConfig{Kind: model.TriggerPaydayDetection, Pattern: "payroll"},
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyFixedAmount, Amount: pence(50000)},
		},
	})

	ctx := context.Background()
	fire, reason, err := eng.ShouldFireNow(ctx, "payday")
	require.NoError(t, err)
	assert.True(t, fire)
	assert.Contains(t, reason, "ACME LTD PAYROLL")

	result, err := eng.EvaluateAndExecute(ctx, "payday")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, result.Status)
	assert.Equal(t, DedupKey("payday", model.MainAccount(""), model.Pot("savings"), "txn:tx_salary"),
		result.Outcomes[0].DedupKey)

	consumed, err := db.Storage.IsTransactionConsumed(ctx, "payday", "tx_salary")
	require.NoError(t, err)
	assert.True(t, consumed)

	again, err := eng.EvaluateAndExecute(ctx, "payday")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFired, again.Status)
	assert.Len(t, bank.GetTransferCalls(), 1)
}

func TestEngine_BalanceThresholdTrigger(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero).
		AddPot("overflow", money.FromMinor(120000)).
		AddPot("savings", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("overflow", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("savings"),
		Trigger: model.TriggerConfig{Kind: model.TriggerBalanceThreshold, Threshold: pence(100000)},
		Sources: []model.SweepSource{
			{Source: model.Pot("overflow"), Strategy: model.StrategyRemainingBalance, MinBalance: pence(100000)},
		},
	})

	ctx := context.Background()
	result, err := eng.EvaluateAndExecute(ctx, "overflow")
	require.NoError(t, err)
	assert.True(t, result.Fired)
	assert.Equal(t, int64(20000), result.TotalMoved.Minor())

	fire, _, err := eng.ShouldFireNow(ctx, "overflow")
	require.NoError(t, err)
	assert.True(t, fire, "pot still sits at the threshold")

	again, err := eng.EvaluateAndExecute(ctx, "overflow")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, again.Status)
	assert.Len(t, bank.GetTransferCalls(), 1)
}

func TestEngine_Autosorter(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero).
		AddPot("holding", money.FromMinor(100000)).
		AddPot("bills", money.Zero).
		AddPot("emergency", money.Zero).
		AddPot("holiday", money.FromMinor(90000)).
		AddPot("car", money.Zero).
		AddPot("isa", money.Zero)
	bank.Pots["bills"].CurrentAccountID = "acc_bills"
	bank.Pots["holiday"].Goal = pence(100000)
	bank.Transactions = []model.Transaction{
		{ID: "tx_rent", AccountID: "acc_bills", CreatedAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), Amount: money.FromMinor(-12000), Description: "Council tax"},
		{ID: "tx_old", AccountID: "acc_bills", CreatedAt: time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC), Amount: money.FromMinor(-9999), Description: "Last cycle"},
	}
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sorter", model.RuleTypeAutosorter, model.AutosorterConfig{
		HoldingPot:     "holding",
		BillsPot:       "bills",
		PaydayDay:      1,
		Trigger:        manual(),
		PriorityPots:   []model.PotAllocation{{PotID: "emergency", Amount: pence(20000)}},
		GoalPots:       []model.PotAllocation{{PotID: "holiday"}, {PotID: "car", Goal: pence(500000)}},
		InvestmentPots: []model.PotAllocation{{PotID: "isa"}},
	})

	result, err := eng.ExecuteNow(context.Background(), "sorter")
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, result.Status)
	assert.Equal(t, 5, result.Succeeded)

	got := make(map[string]int64)
	stages := make(map[string]string)
	for _, o := range result.Outcomes {
		got[o.To.ID] = o.Amount.Minor()
		stages[o.To.ID] = o.Stage
	}
	assert.Equal(t, map[string]int64{
		"bills":     12000,
		"emergency": 20000,
		"holiday":   10000,
		"car":       34000,
		"isa":       24000,
	}, got)
	assert.Equal(t, "bills", stages["bills"])
	assert.Equal(t, "goal", stages["holiday"])
	assert.Equal(t, "investment", stages["isa"])

	assert.True(t, bank.Balance(model.Pot("holding")).IsZero())
	assert.Equal(t, int64(100000), bank.Balance(model.Pot("holiday")).Minor())
}

func TestEngine_AutosorterUnavailablePot(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero).
		AddPot("holding", money.FromMinor(10000)).
		AddPot("isa", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sorter", model.RuleTypeAutosorter, model.AutosorterConfig{
		HoldingPot:     "holding",
		Trigger:        manual(),
		InvestmentPots: []model.PotAllocation{{PotID: "gone"}, {PotID: "isa"}},
	})

	result, err := eng.ExecuteNow(context.Background(), "sorter")
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartial, result.Status)
	assert.Equal(t, int64(10000), bank.Balance(model.Pot("isa")).Minor())
}

func TestEngine_AutosorterWithoutHolding(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sorter", model.RuleTypeAutosorter, model.AutosorterConfig{
		HoldingPot: "holding",
		Trigger:    manual(),
	})

	ctx := context.Background()
	result, err := eng.ExecuteNow(ctx, "sorter")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], common.ErrBalanceUnavailable.Error())

	rule, err := db.Storage.GetRule(ctx, "sorter")
	require.NoError(t, err)
	assert.Nil(t, rule.LastExecuted)
}

func TestEngine_Topup(t *testing.T) {
	tests := []struct {
		name          string
		main          int64
		target        int64
		amount        int64
		targetBalance *money.Money
		wantStatus    model.ExecutionStatus
		wantMoved     int64
		wantReason    string
	}{
		{name: "fixed amount", main: 10000, target: 0, amount: 2500, wantStatus: model.StatusSucceeded, wantMoved: 2500},
		{name: "capped at target", main: 10000, target: 7000, amount: 5000, targetBalance: pence(10000), wantStatus: model.StatusSucceeded, wantMoved: 3000},
		{name: "already funded", main: 10000, target: 12000, amount: 5000, targetBalance: pence(10000), wantStatus: model.StatusSkipped, wantReason: "target already funded"},
		{name: "insufficient funds", main: 1000, target: 0, amount: 5000, wantStatus: model.StatusFailed, wantReason: common.ErrInsufficientFunds.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := monzo.NewMockClient(money.FromMinor(tt.main)).AddPot("fuel", money.FromMinor(tt.target))
			eng, db := newTestEngine(t, bank, testNow)

			db.MustCreateRule("topup", model.RuleTypeAutoTopup, model.TopupConfig{
				Source:        model.MainAccount(""),
				Target:        model.Pot("fuel"),
				Amount:        money.FromMinor(tt.amount),
				TargetBalance: tt.targetBalance,
				Trigger:       manual(),
			})

			result, err := eng.ExecuteNow(context.Background(), "topup")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantMoved, result.TotalMoved.Minor())
			assert.Equal(t, tt.target+tt.wantMoved, bank.Balance(model.Pot("fuel")).Minor())
			if tt.wantReason != "" {
				require.Len(t, result.Outcomes, 1)
				assert.Contains(t, result.Outcomes[0].Reason, tt.wantReason)
			}
		})
	}
}

func TestEngine_BillsPot(t *testing.T) {
	now := time.Date(2026, 3, 28, 12, 0, 0, 0, time.UTC)
	bank := monzo.NewMockClient(money.FromMinor(100000)).AddPot("bills", money.FromMinor(500))
	bank.Pots["bills"].CurrentAccountID = "acc_bills"
	bank.Transactions = []model.Transaction{
		{ID: "tx_1", AccountID: "acc_bills", CreatedAt: time.Date(2026, 3, 26, 9, 0, 0, 0, time.UTC), Amount: money.FromMinor(-4550), Description: "Energy"},
		{ID: "tx_2", AccountID: "acc_bills", CreatedAt: time.Date(2026, 3, 27, 9, 0, 0, 0, time.UTC), Amount: money.FromMinor(-2000), Description: "Broadband"},
		{ID: "tx_3", AccountID: "acc_bills", CreatedAt: time.Date(2026, 3, 26, 10, 0, 0, 0, time.UTC), Amount: money.FromMinor(1000), Description: "Refund"},
		{ID: "tx_4", AccountID: "acc_bills", CreatedAt: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC), Amount: money.FromMinor(-9900), Description: "Before payday"},
		{ID: "tx_5", CreatedAt: time.Date(2026, 3, 27, 9, 0, 0, 0, time.UTC), Amount: money.FromMinor(-5000), Description: "Main account spend"},
	}
	eng, db := newTestEngine(t, bank, now)

	db.MustCreateRule("bills", model.RuleTypeBillsPot, model.BillsConfig{
		Source:   model.MainAccount(""),
		BillsPot: "bills",
		Trigger:  manual(),
	})

	result, err := eng.ExecuteNow(context.Background(), "bills")
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, result.Status)
	assert.Equal(t, int64(6050), result.TotalMoved.Minor(), "outgoings less what the pot already holds")
	assert.Equal(t, int64(6550), bank.Balance(model.Pot("bills")).Minor())
}

func TestEngine_BillsPotAlreadyCovered(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(100000)).AddPot("bills", money.FromMinor(10000))
	bank.Pots["bills"].CurrentAccountID = "acc_bills"
	bank.Transactions = []model.Transaction{
		{ID: "tx_1", AccountID: "acc_bills", CreatedAt: testNow.Add(-time.Hour), Amount: money.FromMinor(-3000), Description: "Water"},
	}
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("bills", model.RuleTypeBillsPot, model.BillsConfig{
		Source:   model.MainAccount(""),
		BillsPot: "bills",
		Trigger:  manual(),
	})

	result, err := eng.ExecuteNow(context.Background(), "bills")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, result.Status)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, "bills pot already covers this cycle", result.Outcomes[0].Reason)
	assert.Empty(t, bank.GetTransferCalls())
	assert.Equal(t, int64(10000), bank.Balance(model.Pot("bills")).Minor())
}

func TestEngine_AutosorterSkipsCoveredBillsPot(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero).
		AddPot("holding", money.FromMinor(50000)).
		AddPot("bills", money.FromMinor(10000)).
		AddPot("isa", money.Zero)
	bank.Pots["bills"].CurrentAccountID = "acc_bills"
	bank.Transactions = []model.Transaction{
		{ID: "tx_1", AccountID: "acc_bills", CreatedAt: testNow.Add(-time.Hour), Amount: money.FromMinor(-3000), Description: "Water"},
	}
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sorter", model.RuleTypeAutosorter, model.AutosorterConfig{
		HoldingPot:     "holding",
		BillsPot:       "bills",
		Trigger:        manual(),
		InvestmentPots: []model.PotAllocation{{PotID: "isa"}},
	})

	result, err := eng.ExecuteNow(context.Background(), "sorter")
	require.NoError(t, err)

	for _, o := range result.Outcomes {
		assert.NotEqual(t, model.Pot("bills"), o.To, "no bills replenishment expected, moved %s", o.Amount)
	}
	assert.Equal(t, int64(10000), bank.Balance(model.Pot("bills")).Minor())
	assert.Equal(t, int64(50000), bank.Balance(model.Pot("isa")).Minor())
}

func TestBillsCalculator_Shortfall(t *testing.T) {
	tests := []struct {
		name          string
		balance       int64
		spent         []int64
		wantOutgoings int64
		wantShortfall int64
	}{
		{name: "empty pot", balance: 0, spent: []int64{-3000, -1500}, wantOutgoings: 4500, wantShortfall: 4500},
		{name: "partly covered", balance: 1000, spent: []int64{-3000}, wantOutgoings: 3000, wantShortfall: 2000},
		{name: "fully covered", balance: 10000, spent: []int64{-3000}, wantOutgoings: 3000, wantShortfall: 0},
		{name: "credits ignored", balance: 0, spent: []int64{-3000, 500}, wantOutgoings: 3000, wantShortfall: 3000},
		{name: "nothing paid", balance: 0, wantOutgoings: 0, wantShortfall: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := monzo.NewMockClient(money.Zero).AddPot("bills", money.FromMinor(tt.balance))
			bank.Pots["bills"].CurrentAccountID = "acc_bills"
			for i, amount := range tt.spent {
				bank.Transactions = append(bank.Transactions, model.Transaction{
					ID:        fmt.Sprintf("tx_%d", i),
					AccountID: "acc_bills",
					CreatedAt: testNow.Add(-time.Duration(i+1) * time.Hour),
					Amount:    money.FromMinor(amount),
				})
			}
			db := testutil.SetupTestDB(t)
			balances := balance.NewProvider(bank, db.Storage).Session()

			got, err := NewBillsCalculator(bank).Shortfall(context.Background(), balances, "bills", 25, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutgoings, got.Outgoings.Minor())
			assert.Equal(t, tt.wantShortfall, got.Shortfall.Minor())
			assert.Equal(t, tt.balance, got.Balance.Amount.Minor())
			assert.Equal(t, time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC), got.Since)
		})
	}
}

func TestEngine_RepeatedSweepSourceIsRejected(t *testing.T) {
	bank := monzo.NewMockClient(money.Zero).
		AddPot("a", money.FromMinor(10000)).
		AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.Pot("a"), Strategy: model.StrategyFixedAmount, Amount: pence(1000), Priority: 1},
			{Source: model.Pot("a"), Strategy: model.StrategyFixedAmount, Amount: pence(2000), Priority: 2},
		},
	})

	result, err := eng.ExecuteNow(context.Background(), "sweep")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfiguration)
	assert.Equal(t, model.StatusRejected, result.Status)
	assert.Empty(t, bank.GetTransferCalls())
}

func TestEngine_BillsPotWithoutAccount(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(100000)).AddPot("bills", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("bills", model.RuleTypeBillsPot, model.BillsConfig{
		Source:   model.MainAccount(""),
		BillsPot: "bills",
		Trigger:  manual(),
	})

	result, err := eng.ExecuteNow(context.Background(), "bills")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Empty(t, bank.GetTransferCalls())
}

func TestLastPayday(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		day  int
		want time.Time
	}{
		{"after payday", time.Date(2026, 3, 28, 10, 0, 0, 0, time.UTC), 25, time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)},
		{"on payday", time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC), 25, time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)},
		{"before payday", time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), 25, time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)},
		{"short previous month", time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), 31, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"last day of month", time.Date(2026, 4, 30, 10, 0, 0, 0, time.UTC), 31, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		{"default day", time.Date(2026, 3, 28, 10, 0, 0, 0, time.UTC), 0, time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LastPayday(tt.now, tt.day))
		})
	}
}

func TestEngine_ShouldFireNow(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	source := []model.SweepSource{{Source: model.MainAccount(""), Strategy: model.StrategyAllAvailable}}
	db.MustCreateRule("today", model.RuleTypePotSweep, model.SweepConfig{Target: model.Pot("target"), Trigger: monthlyOn(25), Sources: source})
	db.MustCreateRule("later", model.RuleTypePotSweep, model.SweepConfig{Target: model.Pot("target"), Trigger: monthlyOn(1), Sources: source})
	db.MustCreateRule("off", model.RuleTypePotSweep, model.SweepConfig{Target: model.Pot("target"), Trigger: monthlyOn(25), Sources: source})

	ctx := context.Background()
	require.NoError(t, db.Storage.SetRuleEnabled(ctx, "off", false))

	tests := []struct {
		rule       string
		wantFire   bool
		wantReason string
	}{
		{"today", true, "monthly on day 25"},
		{"later", false, "today is not day 1"},
		{"off", false, "rule is disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			fire, reason, err := eng.ShouldFireNow(ctx, tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFire, fire)
			assert.Equal(t, tt.wantReason, reason)
		})
	}

	assert.Empty(t, bank.GetTransferCalls())
}

func TestEngine_RunDue(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	source := []model.SweepSource{{Source: model.MainAccount(""), Strategy: model.StrategyFixedAmount, Amount: pence(1000)}}
	db.MustCreateRule("due", model.RuleTypePotSweep, model.SweepConfig{Target: model.Pot("target"), Trigger: monthlyOn(25), Sources: source})
	db.MustCreateRule("later", model.RuleTypePotSweep, model.SweepConfig{Target: model.Pot("target"), Trigger: monthlyOn(1), Sources: source})
	db.MustCreateRule("broken", model.RuleTypePotSweep, model.SweepConfig{Target: model.MainAccount(""), Trigger: monthlyOn(25), Sources: source})

	ctx := context.Background()
	results, err := eng.RunDue(ctx, "user_test")
	require.NoError(t, err)
	require.Len(t, results, 3)

	byRule := make(map[string]model.ExecutionStatus)
	for _, r := range results {
		byRule[r.RuleID] = r.Status
	}
	assert.Equal(t, model.StatusSucceeded, byRule["due"])
	assert.Equal(t, model.StatusNotFired, byRule["later"])
	assert.Equal(t, model.StatusRejected, byRule["broken"])
	assert.Len(t, bank.GetTransferCalls(), 1)

	// Already executed this month.
	results, err = eng.RunDue(ctx, "user_test")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, model.StatusSucceeded, r.Status, r.RuleID)
	}
	assert.Len(t, bank.GetTransferCalls(), 1)
}

func TestEngine_ConcurrentExecutionsTransferOnce(t *testing.T) {
	bank := monzo.NewMockClient(money.FromMinor(10000)).AddPot("target", money.Zero)
	eng, db := newTestEngine(t, bank, testNow)

	db.MustCreateRule("sweep", model.RuleTypePotSweep, model.SweepConfig{
		Target:  model.Pot("target"),
		Trigger: manual(),
		Sources: []model.SweepSource{
			{Source: model.MainAccount(""), Strategy: model.StrategyFixedAmount, Amount: pence(1000)},
		},
	})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.ExecuteNow(context.Background(), "sweep"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	assert.Len(t, bank.GetTransferCalls(), 1)
	assert.Equal(t, int64(1000), bank.Balance(model.Pot("target")).Minor())
}
