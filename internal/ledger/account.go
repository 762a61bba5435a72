package ledger

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopeUser:
		return "user"
	case AccountScopeSystem:
		return "system"
	case AccountScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AssetID names a token tracked by the ledger ("WETH", "WBTC", "DSC").
type AssetID string

// Address identifies a token holder. Users are UUIDs, system holders are short
// names packed into the entity bytes, and the external boundary has no entity.
type Address struct {
	Scope    AccountScope
	EntityID [16]byte
}

// ExternalAddress is the boundary through which tokens enter or leave the ledger.
var ExternalAddress = Address{Scope: AccountScopeExternal}

// UserAddress creates the address of a user wallet
func UserAddress(userID uuid.UUID) Address {
	return Address{Scope: AccountScopeUser, EntityID: userID}
}

// SystemAddress creates the address of a named system holder (max 16 bytes)
func SystemAddress(name string) Address {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return Address{Scope: AccountScopeSystem, EntityID: entityID}
}

func (a Address) IsExternal() bool {
	return a.Scope == AccountScopeExternal
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	switch a.Scope {
	case AccountScopeUser:
		return "user:" + uuid.UUID(a.EntityID).String()
	case AccountScopeSystem:
		return "system:" + string(bytes.TrimRight(a.EntityID[:], "\x00"))
	case AccountScopeExternal:
		return "external"
	}
	return "unknown"
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress is the inverse of Address.String. A bare UUID is read as a user.
func ParseAddress(s string) (Address, error) {
	switch {
	case s == "external":
		return ExternalAddress, nil
	case strings.HasPrefix(s, "system:"):
		name := strings.TrimPrefix(s, "system:")
		if name == "" || len(name) > 16 {
			return Address{}, fmt.Errorf("invalid system address %q", s)
		}
		return SystemAddress(name), nil
	default:
		id, err := uuid.Parse(strings.TrimPrefix(s, "user:"))
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return UserAddress(id), nil
	}
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Owner   Address
	AssetID AssetID
}

func NewAccountKey(owner Address, asset AssetID) AccountKey {
	return AccountKey{Owner: owner, AssetID: asset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("%s:%s", k.Owner.String(), k.AssetID)
}

// ParseAccountPath is the inverse of AccountKey.AccountPath. Asset ids never
// contain ':', so the asset is everything after the last one.
func ParseAccountPath(path string) (AccountKey, error) {
	i := strings.LastIndexByte(path, ':')
	if i <= 0 || i == len(path)-1 {
		return AccountKey{}, fmt.Errorf("invalid account path %q", path)
	}
	owner, err := ParseAddress(path[:i])
	if err != nil {
		return AccountKey{}, err
	}
	return NewAccountKey(owner, AssetID(path[i+1:])), nil
}
