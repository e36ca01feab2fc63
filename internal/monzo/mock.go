package monzo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
)

// MockClient is an in-memory bank for tests and dry local runs. Balances
// move when transfers succeed, so a sequence of transfers behaves like the
// real account.
type MockClient struct {
	TransferFunc       func(ctx context.Context, req service.TransferRequest) error
	AccountBalanceFunc func(ctx context.Context, accountID string) (money.Money, error)
	PotBalanceFunc     func(ctx context.Context, potID string) (money.Money, error)
	Pots               map[string]*model.PotInfo
	Transactions       []model.Transaction
	TransferCalls      []service.TransferRequest
	Main               money.Money
	BalanceCalls       int
	mu                 sync.Mutex
}

var _ service.Bank = (*MockClient)(nil)

// NewMockClient creates a mock bank with the given main account balance.
func NewMockClient(main money.Money) *MockClient {
	return &MockClient{
		Main: main,
		Pots: make(map[string]*model.PotInfo),
	}
}

// AddPot registers a pot with a starting balance.
func (m *MockClient) AddPot(id string, balance money.Money) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pots[id] = &model.PotInfo{ID: id, Name: id, Balance: balance}
	return m
}

// AccountBalance implements service.Bank.
func (m *MockClient) AccountBalance(ctx context.Context, accountID string) (money.Money, error) {
	m.mu.Lock()
	m.BalanceCalls++
	fn := m.AccountBalanceFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, accountID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Main, nil
}

// PotBalance implements service.Bank.
func (m *MockClient) PotBalance(ctx context.Context, potID string) (money.Money, error) {
	m.mu.Lock()
	m.BalanceCalls++
	fn := m.PotBalanceFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, potID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Pots[potID]
	if !ok {
		return money.Zero, fmt.Errorf("pot %s: %w", potID, common.ErrNotFound)
	}
	return p.Balance, nil
}

// ListPots implements service.Bank.
func (m *MockClient) ListPots(_ context.Context) ([]model.PotInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pots := make([]model.PotInfo, 0, len(m.Pots))
	for _, p := range m.Pots {
		pots = append(pots, *p)
	}
	sort.Slice(pots, func(i, j int) bool { return pots[i].ID < pots[j].ID })
	return pots, nil
}

// RecentTransactions implements service.Bank. Transactions with an empty
// AccountID belong to the default account.
func (m *MockClient) RecentTransactions(_ context.Context, accountID string, since time.Time) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Transaction
	for _, t := range m.Transactions {
		if t.AccountID == accountID && !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Transfer implements service.Bank.
func (m *MockClient) Transfer(ctx context.Context, req service.TransferRequest) error {
	m.mu.Lock()
	m.TransferCalls = append(m.TransferCalls, req)
	fn := m.TransferFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, req); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.debit(req.From, req.Amount); err != nil {
		return err
	}
	m.credit(req.To, req.Amount)
	return nil
}

func (m *MockClient) debit(ref model.SourceRef, amount money.Money) error {
	if ref.IsMainAccount() {
		if m.Main.LessThan(amount) {
			return fmt.Errorf("%w: main account holds %s", common.ErrInsufficientFunds, m.Main)
		}
		m.Main = m.Main.Sub(amount)
		return nil
	}
	p, ok := m.Pots[ref.ID]
	if !ok {
		return fmt.Errorf("pot %s: %w", ref.ID, common.ErrNotFound)
	}
	if p.Balance.LessThan(amount) {
		return fmt.Errorf("%w: pot %s holds %s", common.ErrInsufficientFunds, ref.ID, p.Balance)
	}
	p.Balance = p.Balance.Sub(amount)
	return nil
}

func (m *MockClient) credit(ref model.SourceRef, amount money.Money) {
	if ref.IsMainAccount() {
		m.Main = m.Main.Add(amount)
		return
	}
	p, ok := m.Pots[ref.ID]
	if !ok {
		p = &model.PotInfo{ID: ref.ID, Name: ref.ID}
		m.Pots[ref.ID] = p
	}
	p.Balance = p.Balance.Add(amount)
}

// GetTransferCalls returns a copy of all transfer calls.
func (m *MockClient) GetTransferCalls() []service.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]service.TransferRequest, len(m.TransferCalls))
	copy(calls, m.TransferCalls)
	return calls
}

// Balance returns the current balance of a pot or the main account.
func (m *MockClient) Balance(ref model.SourceRef) money.Money {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref.IsMainAccount() {
		return m.Main
	}
	if p, ok := m.Pots[ref.ID]; ok {
		return p.Balance
	}
	return money.Zero
}
