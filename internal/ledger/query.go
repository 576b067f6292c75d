package ledger

// UsedMaterials returns the used records of p, limited to sectionID when
// it is not blank.
func UsedMaterials(p Project, sectionID string) []UsedRecord {
	want := normalize(sectionID)
	out := make([]UsedRecord, 0, len(p.Used))
	for _, r := range p.Used {
		if want != "" && normalize(r.SectionID) != want {
			continue
		}
		out = append(out, r.clone())
	}
	return out
}

// AvailableMaterials returns the batches a section may consume, or every
// batch when sectionID is blank.
func AvailableMaterials(p Project, sectionID string) []Batch {
	want := normalize(sectionID)
	out := make([]Batch, 0, len(p.Available))
	for _, b := range p.Available {
		if want != "" && !b.VisibleTo(want) {
			continue
		}
		out = append(out, b.clone())
	}
	return out
}
