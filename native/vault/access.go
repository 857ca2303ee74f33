package vault

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a capability checked by the AccessGuard.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOracle     Role = "oracle"
	RoleLiquidator Role = "liquidator"
	RoleEmergency  Role = "emergency"
)

// Roles lists every role understood by the engine.
var Roles = []Role{RoleAdmin, RoleOracle, RoleLiquidator, RoleEmergency}

// AccessGuard decides whether caller holds role.
type AccessGuard interface {
	HasRole(caller common.Address, role Role) bool
}

// AccessFunc adapts a function to the AccessGuard interface.
type AccessFunc func(caller common.Address, role Role) bool

func (f AccessFunc) HasRole(caller common.Address, role Role) bool {
	if f == nil {
		return false
	}
	return f(caller, role)
}

// RoleRegistry is an in-memory AccessGuard.
type RoleRegistry struct {
	mu      sync.RWMutex
	holders map[Role]map[common.Address]struct{}
}

// NewRoleRegistry returns an empty registry.
func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{holders: make(map[Role]map[common.Address]struct{})}
}

func (r *RoleRegistry) Grant(role Role, holder common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.holders[role]
	if !ok {
		set = make(map[common.Address]struct{})
		r.holders[role] = set
	}
	set[holder] = struct{}{}
}

func (r *RoleRegistry) Revoke(role Role, holder common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holders[role], holder)
}

func (r *RoleRegistry) HasRole(caller common.Address, role Role) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.holders[role][caller]
	return ok
}
