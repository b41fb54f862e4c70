package glyphatlas

import "golang.org/x/text/unicode/bidi"

// bidiLevels runs the Unicode bidirectional algorithm over a paragraph and
// returns the embedding level of each rune. Even levels read left to
// right, odd levels right to left.
func bidiLevels(text string, base Direction) []int {
	runes := []rune(text)
	levels := make([]int, len(runes))
	if len(runes) == 0 {
		return levels
	}

	defaultDir := bidi.Neutral
	if base == DirectionRTL {
		defaultDir = bidi.RightToLeft
	}

	p := bidi.Paragraph{}
	_, _ = p.SetString(text, bidi.DefaultDirection(defaultDir))

	ordering, err := p.Order()
	if err != nil {
		return levels
	}

	// run.Pos() returns rune indices, end inclusive.
	for i := 0; i < ordering.NumRuns(); i++ {
		run := ordering.Run(i)
		start, end := run.Pos()
		level := 0
		if run.Direction() == bidi.RightToLeft {
			level = 1
		}
		for j := start; j <= end && j < len(levels); j++ {
			levels[j] = level
		}
	}
	return levels
}

// runDirection reports the resolved direction of the run of runes
// [start, end) given paragraph embedding levels.
func runDirection(levels []int, start int) Direction {
	if start < len(levels) && levels[start]%2 == 1 {
		return DirectionRTL
	}
	return DirectionLTR
}
