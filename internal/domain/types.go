package domain

// Metadata is an unstructured metadata container for domain entities.
// It is non-authoritative bookkeeping and never participates in policy
// decisions.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}
