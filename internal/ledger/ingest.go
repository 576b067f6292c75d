package ledger

import (
	"github.com/shopspring/decimal"
)

// AddStockCommand adds a delivery to a project's available pool.
// Cost is what was paid for the whole delivered quantity. The batch keeps it
// as its exact Total and shows the per-unit price derived from it.
type AddStockCommand struct {
	ProjectID     string
	ClientID      string
	Name          string
	Unit          string
	Specs         Specs
	Qnt           decimal.Decimal
	Cost          decimal.Decimal
	MergeIfExists bool
	SectionID     string
}

// AddStockResult is the created or merged batch.
type AddStockResult struct {
	Batch     Batch
	Merged    bool
	Available []Batch
}

func (c AddStockCommand) Validate() error {
	if normalize(c.ProjectID) == "" || normalize(c.ClientID) == "" {
		return invalidArgument("Project ID and Client ID are required")
	}
	if normalize(c.Name) == "" {
		return invalidArgument("material name is required")
	}
	if normalize(c.Unit) == "" {
		return invalidArgument("unit is required")
	}
	if !c.Qnt.IsPositive() {
		return invalidArgument("qnt must be a positive number")
	}
	if c.Cost.IsNegative() {
		return invalidArgument("cost cannot be negative")
	}
	return nil
}

// AddStock applies cmd to a copy of p. With MergeIfExists an existing batch
// of the same scope, name, unit and specs absorbs the delivery: quantities
// add up and so do total costs.
func AddStock(p Project, cmd AddStockCommand, st Stamp) (Project, AddStockResult, error) {
	if err := cmd.Validate(); err != nil {
		return p, AddStockResult{}, err
	}
	next := p.Clone()

	if cmd.MergeIfExists {
		if i := findMergeTarget(next.Available, cmd.Name, cmd.Unit, cmd.Specs, cmd.SectionID); i >= 0 {
			b := &next.Available[i]
			b.Qnt = b.Qnt.Add(cmd.Qnt)
			b.Total = b.Total.Add(cmd.Cost)
			b.Cost = unitCost(b.Total, b.Qnt)
			return next, AddStockResult{Batch: b.clone(), Merged: true, Available: next.Available}, nil
		}
	}

	b := Batch{
		ID:        st.ID,
		Name:      normalize(cmd.Name),
		Unit:      normalize(cmd.Unit),
		Specs:     cmd.Specs.Clone(),
		Qnt:       cmd.Qnt,
		Cost:      unitCost(cmd.Cost, cmd.Qnt),
		Total:     cmd.Cost,
		SectionID: normalize(cmd.SectionID),
		CreatedAt: st.At,
	}
	next.Available = append(next.Available, b)
	return next, AddStockResult{Batch: b.clone(), Available: next.Available}, nil
}
