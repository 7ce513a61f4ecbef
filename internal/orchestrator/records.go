package orchestrator

import "galleryscraper/pkg/models"

// recordSet keeps the latest record per discovered item in discovery order
type recordSet struct {
	links   []models.DiscoveredLink
	records map[string]models.ExtractionRecord
}

func newRecordSet(links []models.DiscoveredLink) *recordSet {
	return &recordSet{
		links:   links,
		records: make(map[string]models.ExtractionRecord, len(links)),
	}
}

// merge replaces stored records; a partial record never replaces a fuller one
func (r *recordSet) merge(records []models.ExtractionRecord) {
	for _, rec := range records {
		if prev, ok := r.records[rec.ItemID]; ok && rec.IsPartial() && !prev.IsPartial() {
			continue
		}
		r.records[rec.ItemID] = rec
	}
}

// list returns one record per link, identifiers only for items that never
// produced one
func (r *recordSet) list() []models.ExtractionRecord {
	out := make([]models.ExtractionRecord, 0, len(r.links))
	for _, link := range r.links {
		if rec, ok := r.records[link.ItemID]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, *models.PartialRecord(link))
	}
	return out
}
