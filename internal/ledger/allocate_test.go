package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectWith(batches ...Batch) Project {
	p := emptyProject()
	p.Available = batches
	return p
}

func allocation(materialID, sectionID, qnt string) AllocateCommand {
	return AllocateCommand{
		ProjectID:  "p1",
		ClientID:   "c1",
		MaterialID: materialID,
		SectionID:  sectionID,
		Qnt:        dec(qnt),
	}
}

func TestAllocatePartial(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	p := projectWith(batch("m1", "", 100, 50))
	cmd := allocation("m1", "S1", "30")
	cmd.MiniSectionID = "MS1"

	next, res, err := Allocate(p, cmd, Stamp{ID: "u1", At: at, By: "7"})
	require.NoError(t, err)

	require.Len(t, next.Available, 1)
	assert.True(t, dec("70").Equal(next.Available[0].Qnt))

	rec := res.Record
	assert.Equal(t, "u1", rec.ID)
	assert.Equal(t, "m1", rec.BatchID)
	assert.Equal(t, "Cement", rec.Name)
	assert.Equal(t, "bags", rec.Unit)
	assert.Equal(t, Specs{"grade": "OPC53"}, rec.Specs)
	assert.True(t, dec("30").Equal(rec.Qnt))
	assert.True(t, dec("50").Equal(rec.Cost))
	assert.Equal(t, "S1", rec.SectionID)
	assert.Equal(t, "MS1", rec.MiniSectionID)
	assert.Equal(t, "7", rec.UsedBy)
	assert.Equal(t, at, rec.UsedAt)

	assert.True(t, dec("1500").Equal(res.Spent))
	assert.True(t, dec("1500").Equal(next.Spent))
	assert.Equal(t, next.Used, res.Used)
	assert.Equal(t, next.Available, res.Available)
}

func TestAllocateExactDepletionPrunes(t *testing.T) {
	p := projectWith(batch("m0", "", 1, 1), batch("m1", "", 100, 50))

	next, res, err := Allocate(p, allocation("m1", "S1", "100"), Stamp{ID: "u1"})
	require.NoError(t, err)

	require.Len(t, next.Available, 1)
	assert.Equal(t, "m0", next.Available[0].ID)
	assert.True(t, dec("5000").Equal(res.Spent))
	assert.Len(t, res.Used, 1)
}

func TestAllocateFailuresLeaveProjectUntouched(t *testing.T) {
	tests := []struct {
		name string
		cmd  AllocateCommand
		want error
	}{
		{"negative qnt", allocation("m1", "S1", "-5"), ErrInvalidArgument},
		{"zero qnt", allocation("m1", "S1", "0"), ErrInvalidArgument},
		{"missing section", allocation("m1", " ", "1"), ErrInvalidArgument},
		{"missing material", allocation("", "S1", "1"), ErrInvalidArgument},
		{"scoped to another section", allocation("s1", "S2", "1"), ErrNotFound},
		{"unknown material", allocation("nope", "S1", "1"), ErrNotFound},
		{"more than available", allocation("m1", "S1", "200"), ErrInsufficientQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := projectWith(batch("m1", "", 100, 50), batch("s1", "S1", 10, 5))
			before := p.Clone()

			next, _, err := Allocate(p, tt.cmd, Stamp{ID: "u"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, p)
			assert.Equal(t, before, next)
		})
	}
}

func TestAllocateInsufficientReportsAmounts(t *testing.T) {
	p := projectWith(batch("m1", "", 100, 50))

	_, _, err := Allocate(p, allocation("m1", "S1", "200"), Stamp{ID: "u"})

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, CodeInsufficientQuantity, le.Code)
	assert.Equal(t, "Insufficient quantity available. Available: 100, Requested: 200", le.Message)
	assert.True(t, dec("100").Equal(le.Available))
	assert.True(t, dec("200").Equal(le.Requested))
}

func TestAllocateSequenceConservesQuantity(t *testing.T) {
	p := projectWith(batch("m1", "", 40, 3), batch("m2", "S1", 25, 8))
	initial := decimal.Zero
	for _, b := range p.Available {
		initial = initial.Add(b.Qnt)
	}

	steps := []AllocateCommand{
		allocation("m1", "S1", "10"),
		allocation("m2", "S1", "5.5"),
		allocation("m1", "S2", "30"),
		allocation("m2", "S2", "1"), // hidden from S2
		allocation("m2", "S1", "19.5"),
		allocation("m1", "S1", "1"), // already pruned
	}

	spent := decimal.Zero
	for i, cmd := range steps {
		next, res, err := Allocate(p, cmd, Stamp{ID: string(rune('a' + i))})
		if err != nil {
			continue
		}
		assert.True(t, res.Spent.Equal(spent.Add(res.Record.TotalCost())), "spent grows by cost*qnt")
		assert.True(t, res.Spent.GreaterThanOrEqual(spent))
		spent = res.Spent
		p = next

		for _, b := range p.Available {
			assert.True(t, b.Qnt.IsPositive(), "no empty or negative batch survives")
		}
	}

	used := decimal.Zero
	for _, r := range p.Used {
		used = used.Add(r.Qnt)
	}
	remaining := decimal.Zero
	for _, b := range p.Available {
		remaining = remaining.Add(b.Qnt)
	}
	assert.True(t, initial.Equal(used.Add(remaining)), "quantity is conserved")
	assert.Empty(t, p.Available)
	assert.Len(t, p.Used, 4)
	assert.True(t, dec("320").Equal(p.Spent))
}

func TestUsedRecordIsSnapshot(t *testing.T) {
	p := projectWith(batch("m1", "", 10, 2))

	next, res, err := Allocate(p, allocation("m1", "S1", "4"), Stamp{ID: "u1"})
	require.NoError(t, err)

	next.Available[0].Specs["grade"] = "changed"
	next.Available[0].Cost = dec("99")

	assert.Equal(t, "OPC53", next.Used[0].Specs["grade"])
	assert.True(t, dec("2").Equal(next.Used[0].Cost))
	assert.Equal(t, "OPC53", res.Record.Specs["grade"])
}

func TestQueries(t *testing.T) {
	p := projectWith(batch("g", "", 5, 1), batch("a", "A", 5, 1), batch("b", "B", 5, 1))
	p.Used = []UsedRecord{
		{ID: "u1", SectionID: "A", Qnt: dec("1")},
		{ID: "u2", SectionID: "B", Qnt: dec("1")},
		{ID: "u3", SectionID: " A", Qnt: dec("2")},
	}

	assert.Len(t, UsedMaterials(p, ""), 3)
	usedA := UsedMaterials(p, "A ")
	require.Len(t, usedA, 2)
	assert.Equal(t, "u1", usedA[0].ID)
	assert.Equal(t, "u3", usedA[1].ID)
	assert.Empty(t, UsedMaterials(p, "C"))

	assert.Len(t, AvailableMaterials(p, ""), 3)
	availA := AvailableMaterials(p, "A")
	require.Len(t, availA, 2)
	assert.Equal(t, "g", availA[0].ID)
	assert.Equal(t, "a", availA[1].ID)
}

func TestAllocatePartialsAddUpToPaidTotal(t *testing.T) {
	b := batch("m1", "", 3, 0)
	b.Total = dec("100")
	b.Cost = dec("33.333333")
	p := projectWith(b)

	for i := 0; i < 3; i++ {
		next, _, err := Allocate(p, allocation("m1", "S1", "1"), Stamp{ID: string(rune('a' + i))})
		require.NoError(t, err)
		p = next
	}

	assert.Empty(t, p.Available)
	require.Len(t, p.Used, 3)
	assert.True(t, dec("33.333333").Equal(p.Used[0].TotalCost()))
	assert.True(t, dec("33.333333").Equal(p.Used[0].Cost))
	assert.True(t, dec("33.333334").Equal(p.Used[1].TotalCost()))
	assert.True(t, dec("33.333333").Equal(p.Used[2].TotalCost()), "last draw takes the remainder")
	assert.True(t, dec("100").Equal(p.Spent), "spent %s", p.Spent)
}

func TestAllocateKeepsRemainingValue(t *testing.T) {
	b := batch("m1", "", 3, 0)
	b.Total = dec("100")
	b.Cost = dec("33.333333")

	next, res, err := Allocate(projectWith(b), allocation("m1", "S1", "2"), Stamp{ID: "u1"})
	require.NoError(t, err)

	left := next.Available[0]
	assert.True(t, dec("66.666667").Equal(res.Record.TotalCost()))
	assert.True(t, dec("33.333333").Equal(left.TotalCost()))
	assert.True(t, dec("100").Equal(left.TotalCost().Add(next.Spent)), "value is conserved")
}
