package domain

// sizeTier pairs an upper size bound (inclusive) with the OCR priority
// assigned to documents at or under it (§4.C). The last tier has no bound.
type sizeTier struct {
	upperBound int64 // bytes, 0 means unbounded
	priority   int
}

var sizeTiers = []sizeTier{
	{upperBound: 1 << 20, priority: 10},       // <= 1 MiB
	{upperBound: 5 << 20, priority: 8},        // 1 - 5 MiB
	{upperBound: 10 << 20, priority: 6},       // 5 - 10 MiB
	{upperBound: 50 << 20, priority: 4},       // 10 - 50 MiB
	{upperBound: 0, priority: 2},              // > 50 MiB
}

// PriorityForSize returns the size-tiered OCR priority for a document of
// the given size in bytes (§4.C).
func PriorityForSize(sizeBytes int64) int {
	for _, tier := range sizeTiers {
		if tier.upperBound == 0 || sizeBytes <= tier.upperBound {
			return tier.priority
		}
	}
	return sizeTiers[len(sizeTiers)-1].priority
}

// ManualRetryBoost is added to the size-tiered band for a manually
// triggered OCR retry (§4.C).
const ManualRetryBoost = 5
