package ledger

// Resolve returns the index of the first batch, in collection order, whose
// id equals materialID and which is visible to sectionID. Both ids are
// compared as trimmed text.
//
// Two batches sharing an id is a data defect; the first one wins.
func Resolve(batches []Batch, materialID, sectionID string) (int, error) {
	wantID := normalize(materialID)
	for i, b := range batches {
		if normalize(b.ID) != wantID {
			continue
		}
		if !b.VisibleTo(sectionID) {
			continue
		}
		return i, nil
	}

	debug := &MatchDebug{
		RequestedMaterialID: wantID,
		RequestedSectionID:  normalize(sectionID),
		AvailableMaterials:  make([]BatchRef, 0, len(batches)),
	}
	for _, b := range batches {
		debug.AvailableMaterials = append(debug.AvailableMaterials, BatchRef{
			ID:        b.ID,
			Name:      b.Name,
			SectionID: b.SectionID,
			Qnt:       b.Qnt,
		})
	}
	return -1, materialNotFound(debug)
}

// findMergeTarget is the ingestion-side lookup: same scope, name, unit and specs.
func findMergeTarget(batches []Batch, name, unit string, specs Specs, sectionID string) int {
	scope := normalize(sectionID)
	for i, b := range batches {
		if normalize(b.SectionID) != scope {
			continue
		}
		if normalize(b.Name) != normalize(name) || normalize(b.Unit) != normalize(unit) {
			continue
		}
		if !b.Specs.Equal(specs) {
			continue
		}
		return i
	}
	return -1
}
