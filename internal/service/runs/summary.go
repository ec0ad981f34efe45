package runs

// requestSummaryAllowlist names the request fields safe to persist on the
// artifact. Everything else in the incoming request (raw geometry, free-form
// notes, anything operator-typed) stays out of the permanent record.
var requestSummaryAllowlist = map[string]struct{}{
	"pattern_id":   {},
	"pattern_rev":  {},
	"lane":         {},
	"grade":        {},
	"fragility":    {},
	"material":     {},
	"tool_id":      {},
	"units":        {},
	"requested_by": {},
	"station":      {},
}

// redactRequestSummary keeps only allowlisted keys. A nil map stays nil so
// the field marshals away entirely.
func redactRequestSummary(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if _, ok := requestSummaryAllowlist[key]; ok {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
