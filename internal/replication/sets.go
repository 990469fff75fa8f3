package replication

// Intersect returns the names of b that also appear in a, in b's order.
// Duplicates in b are kept.
func Intersect(a, b []string) []string {
	in := make(map[string]struct{}, len(a))
	for _, v := range a {
		in[v] = struct{}{}
	}

	m := []string{}
	for _, v := range b {
		if _, ok := in[v]; ok {
			m = append(m, v)
		}
	}
	return m
}

// Missing returns the names of remote that are absent from local, in
// remote's order: what this side does not have that the other side does.
func Missing(local, remote []string) []string {
	have := make(map[string]struct{}, len(local))
	for _, v := range local {
		have[v] = struct{}{}
	}

	m := []string{}
	for _, v := range remote {
		if _, ok := have[v]; !ok {
			m = append(m, v)
		}
	}
	return m
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, v := range names {
		set[v] = struct{}{}
	}
	return set
}
