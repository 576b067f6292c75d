package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// costPlaces is the precision of derived values: per-unit prices and the
// value of a partial allocation. Totals themselves are never rounded.
const costPlaces = 6

// Project owns one pool of available batches, one pool of used records and
// the running spent total. Available is kept in collection order; the
// resolver relies on that order.
type Project struct {
	ID        string          `json:"projectId"`
	ClientID  string          `json:"clientId"`
	Name      string          `json:"name"`
	Spent     decimal.Decimal `json:"spent"`
	Version   int64           `json:"version"`
	Available []Batch         `json:"materialAvailable"`
	Used      []UsedRecord    `json:"materialUsed"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Batch is a quantity of material acquired but not consumed yet.
// Total is the exact value of the remaining quantity and Cost the per-unit
// price derived from it. An empty SectionID makes the batch global.
type Batch struct {
	ID        string          `json:"_id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Specs     Specs           `json:"specs"`
	Qnt       decimal.Decimal `json:"qnt"`
	Cost      decimal.Decimal `json:"cost"`
	Total     decimal.Decimal `json:"totalCost"`
	SectionID string          `json:"sectionId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TotalCost is the value of the remaining quantity.
func (b Batch) TotalCost() decimal.Decimal {
	return b.Total
}

// take removes qnt from the batch and returns the value it carried. Taking
// the whole remainder returns Total as is, so a batch always hands out
// exactly what was paid for it.
func (b *Batch) take(qnt decimal.Decimal) decimal.Decimal {
	value := b.Total
	if qnt.LessThan(b.Qnt) {
		value = b.Total.Mul(qnt).DivRound(b.Qnt, costPlaces)
	}
	b.Qnt = b.Qnt.Sub(qnt)
	b.Total = b.Total.Sub(value)
	b.Cost = unitCost(b.Total, b.Qnt)
	return value
}

// Global reports whether every section of the project may consume the batch.
func (b Batch) Global() bool {
	return normalize(b.SectionID) == ""
}

// VisibleTo reports whether a request from sectionID may consume the batch.
func (b Batch) VisibleTo(sectionID string) bool {
	return b.Global() || normalize(b.SectionID) == normalize(sectionID)
}

func (b Batch) clone() Batch {
	b.Specs = b.Specs.Clone()
	return b
}

// UsedRecord is the immutable snapshot written by one allocation. Total is
// the value moved into spent; Cost is the batch's unit price at the time.
type UsedRecord struct {
	ID            string          `json:"_id"`
	BatchID       string          `json:"materialId"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	Specs         Specs           `json:"specs"`
	Qnt           decimal.Decimal `json:"qnt"`
	Cost          decimal.Decimal `json:"cost"`
	Total         decimal.Decimal `json:"totalCost"`
	SectionID     string          `json:"sectionId"`
	MiniSectionID string          `json:"miniSectionId,omitempty"`
	UsedBy        string          `json:"usedBy,omitempty"`
	UsedAt        time.Time       `json:"usedAt"`
}

// TotalCost is the value consumed by this record.
func (r UsedRecord) TotalCost() decimal.Decimal {
	return r.Total
}

func (r UsedRecord) clone() UsedRecord {
	r.Specs = r.Specs.Clone()
	return r
}

// Clone returns a deep copy so callers can derive a new state without
// touching the one a store handed out.
func (p Project) Clone() Project {
	out := p
	if p.Available != nil {
		out.Available = make([]Batch, len(p.Available))
		for i, b := range p.Available {
			out.Available[i] = b.clone()
		}
	}
	if p.Used != nil {
		out.Used = make([]UsedRecord, len(p.Used))
		for i, r := range p.Used {
			out.Used[i] = r.clone()
		}
	}
	return out
}

// Stamp carries the non-deterministic inputs of a command so the engines stay pure.
type Stamp struct {
	ID string
	At time.Time
	By string
}

func unitCost(total, qnt decimal.Decimal) decimal.Decimal {
	if !qnt.IsPositive() {
		return decimal.Zero
	}
	return total.DivRound(qnt, costPlaces)
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}
