package models

// FieldDiff records one field whose values diverged between the two sides of
// a candidate pair, with the per-field similarity score that was computed.
type FieldDiff struct {
	Field  string  `json:"field"`
	ValueA string  `json:"value_a"`
	ValueB string  `json:"value_b"`
	Score  float64 `json:"score"`
}

// MatchedPair is a committed assignment of one record from each source.
// LowConfidence pairs scored between the review and match thresholds and
// carry FieldDiffs for downstream break classification.
type MatchedPair struct {
	A             TradeRecord
	B             TradeRecord
	Score         float64
	LowConfidence bool
	FieldDiffs    []FieldDiff
}

// RecordError is a per-record validation failure. The offending record is
// excluded from matching; the rest of the run continues.
type RecordError struct {
	Ref    SourceRef
	Reason string
}

// MatchResult partitions all valid input records of one matching pass.
// Every input record appears in exactly one of Matched, UnmatchedA or
// UnmatchedB; rejected records are listed separately.
type MatchResult struct {
	Matched    []MatchedPair
	UnmatchedA []TradeRecord
	UnmatchedB []TradeRecord
	Rejected   []RecordError
}

// Total returns the number of valid records the result accounts for.
func (m MatchResult) Total() int {
	return 2*len(m.Matched) + len(m.UnmatchedA) + len(m.UnmatchedB)
}
