package ledger

import (
	"github.com/shopspring/decimal"
)

// AllocateCommand moves Qnt of batch MaterialID into a used record
// attributed to SectionID.
type AllocateCommand struct {
	ProjectID     string
	ClientID      string
	MaterialID    string
	SectionID     string
	MiniSectionID string
	Qnt           decimal.Decimal
}

// AllocationResult is the committed outcome of one allocation.
type AllocationResult struct {
	Available []Batch
	Used      []UsedRecord
	Record    UsedRecord
	Spent     decimal.Decimal
}

func (c AllocateCommand) Validate() error {
	switch {
	case normalize(c.ProjectID) == "":
		return invalidArgument("projectId is required")
	case normalize(c.ClientID) == "":
		return invalidArgument("clientId is required")
	case normalize(c.MaterialID) == "":
		return invalidArgument("materialId is required")
	case normalize(c.SectionID) == "":
		return invalidArgument("sectionId is required")
	case !c.Qnt.IsPositive():
		return invalidArgument("qnt must be a positive number")
	}
	return nil
}

// Allocate validates cmd against p and returns the next state. Nothing in p
// is modified; on error the returned project is p itself.
func Allocate(p Project, cmd AllocateCommand, st Stamp) (Project, AllocationResult, error) {
	if err := cmd.Validate(); err != nil {
		return p, AllocationResult{}, err
	}

	i, err := Resolve(p.Available, cmd.MaterialID, cmd.SectionID)
	if err != nil {
		return p, AllocationResult{}, err
	}
	matched := p.Available[i]
	if cmd.Qnt.GreaterThan(matched.Qnt) {
		return p, AllocationResult{}, insufficientQuantity(matched.Qnt, cmd.Qnt)
	}

	next := p.Clone()
	b := &next.Available[i]
	unit := b.Cost
	value := b.take(cmd.Qnt)

	rec := UsedRecord{
		ID:            st.ID,
		BatchID:       b.ID,
		Name:          b.Name,
		Unit:          b.Unit,
		Specs:         b.Specs.Clone(),
		Qnt:           cmd.Qnt,
		Cost:          unit,
		Total:         value,
		SectionID:     normalize(cmd.SectionID),
		MiniSectionID: normalize(cmd.MiniSectionID),
		UsedBy:        st.By,
		UsedAt:        st.At,
	}
	next.Used = append(next.Used, rec)
	next.Spent = next.Spent.Add(rec.TotalCost())
	next.Available = prune(next.Available)

	return next, AllocationResult{
		Available: next.Available,
		Used:      next.Used,
		Record:    rec,
		Spent:     next.Spent,
	}, nil
}

// prune drops every batch with nothing left.
func prune(batches []Batch) []Batch {
	out := batches[:0]
	for _, b := range batches {
		if b.Qnt.IsPositive() {
			out = append(out, b)
		}
	}
	return out
}
