package pmm

// Policy selects which free block AllocAligned chooses among the
// candidates that satisfy a request (spec §4.3).
type Policy int

// Supported allocation policies.
const (
	// FirstFit returns the first block (region order = insertion order)
	// that satisfies the request.
	FirstFit Policy = iota

	// BestFit returns, across all regions, the smallest block that
	// still satisfies the request. Ties are broken by lowest address.
	BestFit

	// WorstFit returns, across all regions, the largest block that
	// satisfies the request. Ties are broken by lowest address.
	WorstFit

	// NextFit resumes scanning from the block immediately after the
	// last allocation's host block, wrapping once before failing.
	NextFit
)

// String names the policy; used in diagnostics only.
func (p Policy) String() string {
	switch p {
	case FirstFit:
		return "FIRST_FIT"
	case BestFit:
		return "BEST_FIT"
	case WorstFit:
		return "WORST_FIT"
	case NextFit:
		return "NEXT_FIT"
	default:
		return "UNKNOWN_POLICY"
	}
}
