package llmadapter

// MergeChunk folds one streaming delta into the accumulated response using
// the interceptor's deep-merge rule: lists concatenate, dicts recurse
// key-by-key, and scalars are last-wins. acc
// is mutated in place and returned for chaining; a nil acc starts fresh
// from chunk.
func MergeChunk(acc, chunk map[string]any) map[string]any {
	if acc == nil {
		acc = make(map[string]any, len(chunk))
	}
	for k, v := range chunk {
		existing, ok := acc[k]
		if !ok {
			acc[k] = v
			continue
		}
		acc[k] = mergeValue(existing, v)
	}
	return acc
}

func mergeValue(existing, incoming any) any {
	switch e := existing.(type) {
	case map[string]any:
		if i, ok := incoming.(map[string]any); ok {
			return MergeChunk(e, i)
		}
		return incoming
	case []any:
		if i, ok := incoming.([]any); ok {
			return append(append([]any{}, e...), i...)
		}
		return incoming
	default:
		return incoming
	}
}

// FirstRole returns the role carried by the first fragment in chunks that
// has one set, matching the rule that a streamed message's role is fixed
// by whichever delta first announces it.
func FirstRole(chunks []map[string]any) string {
	for _, c := range chunks {
		if r, ok := c["role"].(string); ok && r != "" {
			return r
		}
		if delta, ok := c["delta"].(map[string]any); ok {
			if r, ok := delta["role"].(string); ok && r != "" {
				return r
			}
		}
	}
	return ""
}
