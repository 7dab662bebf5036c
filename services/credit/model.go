package credit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

const genesisHash = "GENESIS"

// CreditEntry is one line of the append-only credit journal. Entries of a
// user form a hash chain ordered by (created_at, id).
type CreditEntry struct {
	ID           string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID       string         `gorm:"column:user_id;size:64;not null;index:idx_credit_entries_user_created,priority:1;uniqueIndex:idx_credit_entries_user_reference,priority:1" json:"user_id"`
	Type         EntryType      `gorm:"column:type;size:8;not null" json:"type"`
	Amount       int64          `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter int64          `gorm:"column:balance_after;not null" json:"balance_after"`
	ReferenceID  *string        `gorm:"column:reference_id;size:128;uniqueIndex:idx_credit_entries_user_reference,priority:2" json:"reference_id,omitempty"`
	Description  string         `gorm:"column:description" json:"description,omitempty"`
	PreviousHash string         `gorm:"column:previous_hash;size:64;not null" json:"-"`
	Hash         string         `gorm:"column:hash;size:64;not null" json:"-"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at;index:idx_credit_entries_user_created,priority:2" json:"created_at"`
}

func (CreditEntry) TableName() string { return "credit_entries" }

type EntryParams struct {
	EntryID      string
	UserID       string
	Type         EntryType
	Amount       int64
	BalanceAfter int64
	ReferenceID  string
	Description  string
	PreviousHash string
	Metadata     datatypes.JSON
	CreatedAt    time.Time
}

func NewCreditEntry(p EntryParams) *CreditEntry {
	e := &CreditEntry{
		ID:           p.EntryID,
		UserID:       p.UserID,
		Type:         p.Type,
		Amount:       p.Amount,
		BalanceAfter: p.BalanceAfter,
		Description:  p.Description,
		PreviousHash: p.PreviousHash,
		Metadata:     p.Metadata,
		CreatedAt:    p.CreatedAt,
	}
	if p.ReferenceID != "" {
		ref := p.ReferenceID
		e.ReferenceID = &ref
	}
	if e.PreviousHash == "" {
		e.PreviousHash = genesisHash
	}
	e.Hash = e.GenerateHash()
	return e
}

func (m *CreditEntry) reference() string {
	if m.ReferenceID == nil {
		return ""
	}
	return *m.ReferenceID
}

func (m *CreditEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"user_id":       m.UserID,
		"type":          string(m.Type),
		"amount":        fmt.Sprintf("%d", m.Amount),
		"balance_after": fmt.Sprintf("%d", m.BalanceAfter),
		"reference_id":  m.reference(),
		"description":   m.Description,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *CreditEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type SpendParams struct {
	ReferenceID string
	Description string
	Metadata    map[string]any
}

type SpendResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"new_balance"`
	Replayed   bool  `json:"replayed,omitempty"`
}

type AddParams struct {
	Amount      int64
	ReferenceID string
	Description string
	Metadata    map[string]any
}

type AddResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"new_balance"`
	Added      int64 `json:"added"`
	Replayed   bool  `json:"replayed,omitempty"`
}
