package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Role is the immutable role of a registered entity
type Role uint8

const (
	RoleSupplier Role = iota
	RoleManufacturer
	RoleTransporter
	RoleDistributer
	RoleRetailer
	RoleCustomer
)

var roleNames = [...]string{
	RoleSupplier:     "SUPPLIER",
	RoleManufacturer: "MANUFACTURER",
	RoleTransporter:  "TRANSPORTER",
	RoleDistributer:  "DISTRIBUTER",
	RoleRetailer:     "RETAILER",
	RoleCustomer:     "CUSTOMER",
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return int(r) < len(roleNames)
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", r)
	}
	return roleNames[r]
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role: %d", r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("invalid role: %q", text)
	}
	*r = role
	return nil
}

// ParseRole parses a role name, ignoring case
func ParseRole(s string) (Role, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range roleNames {
		if name == s {
			return Role(i), true
		}
	}
	return 0, false
}

// Status is the lifecycle stage of a product. The numeric order is the
// order in which a product moves through the supply chain.
type Status uint8

const (
	StatusManufacturing Status = iota
	StatusManufactured
	StatusInTransport
	StatusStored
	StatusUsed
)

var statusNames = [...]string{
	StatusManufacturing: "MANUFACTURING",
	StatusManufactured:  "MANUFACTURED",
	StatusInTransport:   "IN_TRANSPORT",
	StatusStored:        "STORED",
	StatusUsed:          "USED",
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", s)
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status: %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	status, ok := ParseStatus(string(text))
	if !ok {
		return fmt.Errorf("invalid status: %q", text)
	}
	*s = status
	return nil
}

// ParseStatus parses a status name, ignoring case
func ParseStatus(s string) (Status, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range statusNames {
		if name == s {
			return Status(i), true
		}
	}
	return 0, false
}

// Entity represents a registered supply-chain participant
type Entity struct {
	ID   common.Address `json:"id"`
	Role Role           `json:"role"`
}

// Product represents a tracked good
type Product struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Manufacturer   common.Address `json:"manufacturer"`
	Materials      []int64        `json:"materials"`
	Status         Status         `json:"status"`
	TransactionIDs []int64        `json:"transaction_ids"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the product
func (p *Product) Clone() *Product {
	c := *p
	c.Materials = append([]int64{}, p.Materials...)
	c.TransactionIDs = append([]int64{}, p.TransactionIDs...)
	return &c
}

// Transaction is a signed hand-off of a product between two entities
type Transaction struct {
	ID        int64         `json:"id"`
	Issuer    Entity        `json:"issuer"`
	Receiver  Entity        `json:"receiver"`
	ProductID int64         `json:"product_id"`
	Status    Status        `json:"status"`
	Signature hexutil.Bytes `json:"signature"`
	Timestamp time.Time     `json:"timestamp"`
}

// Clone returns a deep copy of the transaction
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Signature = append([]byte{}, t.Signature...)
	return &c
}

// ProvenanceNode is one product in a provenance walk together with its hand-offs
type ProvenanceNode struct {
	Product      *Product       `json:"product"`
	Transactions []*Transaction `json:"transactions"`
}

// Provenance is the materials DAG reachable from Root, breadth-first, each
// product listed once
type Provenance struct {
	Root  int64            `json:"root"`
	Nodes []ProvenanceNode `json:"nodes"`
}

// Contains reports whether the provenance walk reached productID
func (p *Provenance) Contains(productID int64) bool {
	for _, n := range p.Nodes {
		if n.Product.ID == productID {
			return true
		}
	}
	return false
}
