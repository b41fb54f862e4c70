package glyphatlas

import "unicode/utf8"

// Breaks implements BreakClassifier using the UAX #14 line segmenter from
// go-text/typesetting. Offsets are byte positions, strictly ascending, and
// the final break always sits at len(text).
func (fs *FontSystem) Breaks(text string) []Break {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	fs.seg.Init(runes)

	// The segmenter works in rune indices; translate back to bytes.
	byteOf := runeByteOffsets(runes)

	var breaks []Break
	iter := fs.seg.LineIterator()
	for iter.Next() {
		line := iter.Line()
		end := line.Offset + len(line.Text)
		breaks = append(breaks, Break{
			Offset:    byteOf[end],
			Mandatory: line.IsMandatoryBreak,
		})
	}
	return breaks
}

// Graphemes implements BreakClassifier, returning the byte offset of every
// grapheme cluster start in ascending order.
func (fs *FontSystem) Graphemes(text string) []int {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	fs.seg.Init(runes)

	byteOf := runeByteOffsets(runes)

	var starts []int
	iter := fs.seg.GraphemeIterator()
	for iter.Next() {
		starts = append(starts, byteOf[iter.Grapheme().Offset])
	}
	return starts
}

// runeByteOffsets returns the byte offset of each rune plus a final entry
// holding the total encoded length.
func runeByteOffsets(runes []rune) []int {
	byteOf := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		byteOf[i] = off
		off += utf8.RuneLen(r)
	}
	byteOf[len(runes)] = off
	return byteOf
}
