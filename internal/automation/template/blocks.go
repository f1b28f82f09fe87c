package template

import (
	"fmt"
	"strings"
)

// parseTemplate splits a host string into text/expr/block segments.
func parseTemplate(src string) (*template, error) {
	segs, rest, _, err := parseSegments(src, "")
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("unexpected trailing content after blocks: %q", rest)
	}
	return &template{segments: segs}, nil
}

// parseSegments parses segments until EOF, a top-level {{else}}, or a
// top-level {{/closeTag}} (when closeTag is non-empty). It returns the
// parsed segments, the unconsumed remainder (with the terminating tag
// itself already stripped), and whether the terminator was "else".
func parseSegments(src, closeTag string) (segs []segment, rest string, hitElse bool, err error) {
	for {
		openIdx := strings.Index(src, "{{")
		if openIdx < 0 {
			segs = append(segs, &textSegment{text: src})
			return segs, "", false, nil
		}

		if openIdx > 0 {
			segs = append(segs, &textSegment{text: src[:openIdx]})
		}
		src = src[openIdx:]

		closeIdx := strings.Index(src, "}}")
		if closeIdx < 0 {
			return nil, "", false, fmt.Errorf("unterminated {{ in template")
		}
		tag := strings.TrimSpace(src[2:closeIdx])
		afterTag := src[closeIdx+2:]

		switch {
		case closeTag != "" && tag == "else":
			return segs, afterTag, true, nil
		case closeTag != "" && tag == "/"+closeTag:
			return segs, afterTag, false, nil
		case strings.HasPrefix(tag, "#each"):
			collectionRaw := strings.TrimSpace(strings.TrimPrefix(tag, "#each"))
			body, remaining, _, berr := parseSegments(afterTag, "each")
			if berr != nil {
				return nil, "", false, berr
			}
			collExpr, _ := parseExpression(collectionRaw)
			segs = append(segs, &eachSegment{
				collectionRaw: collectionRaw,
				collection:    collExpr,
				body:          body,
			})
			src = remaining

		case strings.HasPrefix(tag, "#if"):
			conditionRaw := strings.TrimSpace(strings.TrimPrefix(tag, "#if"))
			thenBody, remaining, gotElse, berr := parseSegments(afterTag, "if")
			if berr != nil {
				return nil, "", false, berr
			}
			var elseBody []segment
			if gotElse {
				elseBody, remaining, _, berr = parseSegments(remaining, "if")
				if berr != nil {
					return nil, "", false, berr
				}
			}
			segs = append(segs, &ifSegment{
				conditionRaw: conditionRaw,
				thenBody:     thenBody,
				elseBody:     elseBody,
			})
			src = remaining

		default:
			expr, _ := parseExpression(tag)
			segs = append(segs, &exprSegment{raw: tag, expr: expr})
			src = afterTag
		}
	}
}
