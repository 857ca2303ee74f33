package vault

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// State is the persistence boundary of the engine. Getters return nil without
// an error when a record does not exist. Commit must apply the whole
// changeset or none of it.
type State interface {
	Collateral(asset common.Address) (*CollateralConfig, error)
	Collaterals() ([]*CollateralConfig, error)
	Position(user, asset common.Address) (*Position, error)
	// Positions lists positions for asset, or for every asset when asset is
	// the zero address.
	Positions(asset common.Address) ([]*Position, error)
	UserMintStatus(user common.Address) (*MintStatus, error)
	GlobalMintStatus() (*MintStatus, error)
	Settings() (*Settings, error)
	Commit(cs *Changeset) error
}

// Changeset groups the records written by one engine operation. Emptied
// positions are kept with zero balances so their mint timestamps survive a
// reopen.
type Changeset struct {
	Positions    []*Position
	UserStatus   map[common.Address]*MintStatus
	GlobalStatus *MintStatus
	Collaterals  []*CollateralConfig
	Settings     *Settings
}

func (cs *Changeset) putPosition(p *Position) *Changeset {
	cs.Positions = append(cs.Positions, p)
	return cs
}

func (cs *Changeset) putUserStatus(user common.Address, s *MintStatus) *Changeset {
	if cs.UserStatus == nil {
		cs.UserStatus = make(map[common.Address]*MintStatus)
	}
	cs.UserStatus[user] = s
	return cs
}

type positionKey struct {
	user  common.Address
	asset common.Address
}

// MemState is a mutex-guarded in-memory State.
type MemState struct {
	mu          sync.RWMutex
	collaterals map[common.Address]*CollateralConfig
	positions   map[positionKey]*Position
	users       map[common.Address]*MintStatus
	global      *MintStatus
	settings    *Settings
}

// NewMemState returns an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{
		collaterals: make(map[common.Address]*CollateralConfig),
		positions:   make(map[positionKey]*Position),
		users:       make(map[common.Address]*MintStatus),
	}
}

func (m *MemState) Collateral(asset common.Address) (*CollateralConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collaterals[asset].Clone(), nil
}

func (m *MemState) Collaterals() ([]*CollateralConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CollateralConfig, 0, len(m.collaterals))
	for _, cfg := range m.collaterals {
		out = append(out, cfg.Clone())
	}
	sortCollaterals(out)
	return out, nil
}

func (m *MemState) Position(user, asset common.Address) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[positionKey{user, asset}].Clone(), nil
}

func (m *MemState) Positions(asset common.Address) ([]*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0)
	for key, pos := range m.positions {
		if asset != (common.Address{}) && key.asset != asset {
			continue
		}
		out = append(out, pos.Clone())
	}
	sortPositions(out)
	return out, nil
}

func (m *MemState) UserMintStatus(user common.Address) (*MintStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.users[user]
	if !ok {
		return nil, nil
	}
	return status.Clone(), nil
}

func (m *MemState) GlobalMintStatus() (*MintStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.global == nil {
		return nil, nil
	}
	return m.global.Clone(), nil
}

func (m *MemState) Settings() (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Clone(), nil
}

func (m *MemState) Commit(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range cs.Collaterals {
		m.collaterals[cfg.Asset] = cfg.Clone()
	}
	for _, pos := range cs.Positions {
		m.positions[positionKey{pos.User, pos.Asset}] = pos.Clone()
	}
	for user, status := range cs.UserStatus {
		m.users[user] = status.Clone()
	}
	if cs.GlobalStatus != nil {
		m.global = cs.GlobalStatus.Clone()
	}
	if cs.Settings != nil {
		m.settings = cs.Settings.Clone()
	}
	return nil
}

func sortCollaterals(list []*CollateralConfig) {
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].Asset.Bytes(), list[j].Asset.Bytes()) < 0
	})
}

func sortPositions(list []*Position) {
	sort.Slice(list, func(i, j int) bool {
		if c := bytes.Compare(list[i].Asset.Bytes(), list[j].Asset.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(list[i].User.Bytes(), list[j].User.Bytes()) < 0
	})
}
