package template

import "strings"

// legacyResolve implements the fallback resolver used when parsing an
// expression fails: dotted-path navigation over the same context roots,
// without functions, operators, or blocks.
func (s *evalState) legacyResolve(expr string) (any, error) {
	parts := strings.Split(strings.TrimSpace(expr), ".")
	if len(parts) == 0 {
		return nil, nil
	}
	cur, err := s.resolveRoot(parts[0])
	if err != nil {
		return nil, err
	}
	for _, seg := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		if seg == "attributes" {
			if av, has := m["attributeValues"]; has {
				cur = av
				continue
			}
		}
		cur = m[seg]
	}
	return cur, nil
}
