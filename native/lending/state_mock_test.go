package lending

import (
	"math/big"

	"lendcore/core/events"
	"lendcore/core/types"
	"lendcore/crypto"
)

type snapshotKey struct {
	owner    string
	sequence uint64
}

// mockState is an in-memory engineState for tests. Records are stored as
// clones so engine-side mutation of working copies cannot leak through.
type mockState struct {
	banks     map[string]*Bank
	positions map[string]*UserPosition
	accounts  map[string]*types.Account
	snapshots map[snapshotKey]*HealthSnapshot
}

func newMockState() *mockState {
	return &mockState{
		banks:     make(map[string]*Bank),
		positions: make(map[string]*UserPosition),
		accounts:  make(map[string]*types.Account),
		snapshots: make(map[snapshotKey]*HealthSnapshot),
	}
}

func (m *mockState) GetBank(mint string) (*Bank, error) {
	bank, ok := m.banks[mint]
	if !ok {
		return nil, nil
	}
	return bank.Clone(), nil
}

func (m *mockState) PutBank(bank *Bank) error {
	m.banks[bank.Mint] = bank.Clone()
	return nil
}

func (m *mockState) GetPosition(owner crypto.Address) (*UserPosition, error) {
	position, ok := m.positions[owner.String()]
	if !ok {
		return nil, nil
	}
	return position.Clone(), nil
}

func (m *mockState) PutPosition(position *UserPosition) error {
	m.positions[position.Owner.String()] = position.Clone()
	return nil
}

func (m *mockState) BorrowerPositions(debtMint string) ([]*UserPosition, error) {
	var out []*UserPosition
	for _, position := range m.positions {
		if position.DebtMint == debtMint && position.BorrowedDebt != nil && position.BorrowedDebt.Sign() > 0 {
			out = append(out, position.Clone())
		}
	}
	return out, nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	account, ok := m.accounts[addr.String()]
	if !ok {
		return nil, nil
	}
	return account.Clone(), nil
}

func (m *mockState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[addr.String()] = account.Clone()
	return nil
}

func (m *mockState) PutHealthSnapshot(snapshot *HealthSnapshot) error {
	key := snapshotKey{snapshot.User.String(), snapshot.SequenceIndex}
	if _, exists := m.snapshots[key]; exists {
		return ErrSnapshotExists
	}
	m.snapshots[key] = snapshot
	return nil
}

func (m *mockState) GetHealthSnapshot(user crypto.Address, sequence uint64) (*HealthSnapshot, error) {
	snapshot, ok := m.snapshots[snapshotKey{user.String(), sequence}]
	if !ok {
		return nil, nil
	}
	return snapshot, nil
}

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) byType(eventType string) []events.Event {
	var out []events.Event
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func defaultRisk() RiskConfig {
	return RiskConfig{
		MinHealthFactorBps:       100,
		LiquidationBonusBps:      500,
		MaxPriceStalenessSeconds: 120,
		MaxConfidenceBps:         200,
	}
}

// testEnv bundles an engine with its mock collaborators.
type testEnv struct {
	engine  *Engine
	state   *mockState
	emitter *recordingEmitter

	authority crypto.Address
	vault     crypto.Address
}

func newTestEnv() *testEnv {
	authority := testAddr(0xaa)
	vault := crypto.NewAddress(crypto.VaultPrefix, make([]byte, 20))
	state := newMockState()
	emitter := &recordingEmitter{}
	engine := NewEngine(authority, vault, defaultRisk())
	engine.SetState(state)
	engine.SetEmitter(emitter)
	return &testEnv{
		engine:    engine,
		state:     state,
		emitter:   emitter,
		authority: authority,
		vault:     vault,
	}
}

func (env *testEnv) fund(addr crypto.Address, mint string, amount int64) {
	account, ok := env.state.accounts[addr.String()]
	if !ok {
		account = types.NewAccount()
	}
	account.SetBalance(mint, big.NewInt(amount))
	env.state.accounts[addr.String()] = account
}

func quoteAt(price int64, publishTime int64) PriceQuote {
	return PriceQuote{Price: big.NewInt(price), Confidence: big.NewInt(0), PublishTime: publishTime}
}

func pricesAt(now int64, quotes map[string]int64) PriceSet {
	set := make(PriceSet, len(quotes))
	for mint, price := range quotes {
		set.Set(mint, quoteAt(price, now))
	}
	return set
}
