package knmt

// Dedupe keeps the first record for each key and returns the keys of the
// dropped duplicates.
func Dedupe(records []Record) ([]Record, []Key) {
	seen := make(map[Key]struct{}, len(records))
	out := make([]Record, 0, len(records))
	var dropped []Key
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			dropped = append(dropped, k)
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, dropped
}
