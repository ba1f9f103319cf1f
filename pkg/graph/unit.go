package graph

import (
	"iter"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

// SizeFunc measures a piece of text in whatever unit MaxSize is expressed in.
type SizeFunc func(string) int

// RuneCount is the default SizeFunc.
func RuneCount(s string) int {
	return utf8.RuneCountInString(s)
}

// TokenSize returns a SizeFunc counting tokens of the given tiktoken encoding.
func TokenSize(encoding string) (SizeFunc, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// ChunkConfig controls how Chunk splits a document.
//
// MaxSize <= 0 disables splitting. With PreserveSentenceBoundaries a sentence
// larger than MaxSize becomes its own oversized unit; without it such
// sentences are cut at rune boundaries. OverlapSentenceCount sentences of
// the previous unit are repeated at the start of the next one, fewer if the
// unit would otherwise exceed MaxSize.
type ChunkConfig struct {
	MaxSize                    int
	PreserveSentenceBoundaries bool
	OverlapSentenceCount       int
	Size                       SizeFunc
}

type span struct {
	start int
	end   int
}

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// Chunk lazily splits text into units. The sequence can be ranged over any
// number of times. Units carry byte offsets into text, and the Fresh parts
// of consecutive units concatenate to text exactly. IDs and document IDs are
// left to the caller.
func Chunk(text string, cfg ChunkConfig) iter.Seq[common.Unit] {
	return func(yield func(common.Unit) bool) {
		if text == "" {
			return
		}
		size := cfg.Size
		if size == nil {
			size = RuneCount
		}
		fits := func(start, end int) bool {
			return cfg.MaxSize <= 0 || size(text[start:end]) <= cfg.MaxSize
		}

		segs := splitIntoSegments(text)
		if !cfg.PreserveSentenceBoundaries && cfg.MaxSize > 0 {
			segs = splitOversized(text, segs, fits)
		}

		var prev []span
		index := 0
		for i := 0; i < len(segs); {
			j := i + 1
			for j < len(segs) && fits(segs[i].start, segs[j].end) {
				j++
			}
			fresh := segs[i:j]
			freshStart := fresh[0].start
			end := fresh[len(fresh)-1].end

			start := freshStart
			for n := min(cfg.OverlapSentenceCount, len(prev)); n > 0; n-- {
				if s := prev[len(prev)-n].start; fits(s, end) {
					start = s
					break
				}
			}

			unit := common.Unit{
				Index:   index,
				Start:   start,
				End:     end,
				Overlap: freshStart - start,
				Text:    text[start:end],
			}
			if !yield(unit) {
				return
			}
			prev = fresh
			index++
			i = j
		}
	}
}

// splitIntoSegments tiles text into sentence-like segments. Every byte
// belongs to exactly one segment; whitespace following a sentence belongs
// to that sentence. Markdown tables are kept as one segment and blank lines
// always end the pending segment.
func splitIntoSegments(text string) []span {
	var out []span
	cur := 0
	emit := func(end int, force bool) {
		if end <= cur {
			return
		}
		if strings.TrimSpace(text[cur:end]) == "" {
			if len(out) > 0 {
				out[len(out)-1].end = end
				cur = end
				return
			}
			if !force {
				return
			}
		}
		out = append(out, span{start: cur, end: end})
		cur = end
	}

	lines := lineSpans(text)
	lineText := func(i int) string {
		return strings.TrimSpace(text[lines[i].start:lines[i].end])
	}

	for li := 0; li < len(lines); li++ {
		ln := lines[li]
		trimmed := lineText(li)
		switch {
		case trimmed == "":
			if strings.TrimSpace(text[cur:ln.start]) != "" {
				emit(ln.end, false)
			}
		case isTableRow(trimmed):
			emit(ln.start, false)
			end := ln.end
			if li+1 < len(lines) && tableDelimRe.MatchString(lineText(li+1)) {
				for li+1 < len(lines) && isTableRow(lineText(li+1)) {
					li++
					end = lines[li].end
				}
			}
			emit(end, false)
		default:
			for _, cut := range sentenceCuts(text, ln.start, ln.end) {
				emit(cut, false)
			}
		}
	}
	emit(len(text), true)
	return out
}

func lineSpans(text string) []span {
	var lines []span
	start := 0
	for start < len(text) {
		i := strings.IndexByte(text[start:], '\n')
		if i < 0 {
			lines = append(lines, span{start: start, end: len(text)})
			break
		}
		lines = append(lines, span{start: start, end: start + i + 1})
		start += i + 1
	}
	return lines
}

func isTableRow(trimmed string) bool {
	return trimmed != "" && strings.Contains(trimmed, "|")
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isCloser(c byte) bool {
	return c == '"' || c == '\'' || c == ')' || c == ']' || c == '}'
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// listingMarker reports whether the terminator at i closes a "3." style
// list marker: a digit run that starts a line, or a standalone run of at
// most two digits. "in 2021." still ends a sentence.
func listingMarker(text string, start, i int) bool {
	j := i
	for j > start && isDigit(text[j-1]) {
		j--
	}
	if j == i {
		return false
	}
	if j == start || text[j-1] == '\n' {
		return true
	}
	return i-j <= 2 && isSpaceByte(text[j-1])
}

// sentenceCuts returns the offsets in text[start:end] after which a sentence
// ends, including the whitespace that follows it. Numeric list markers and
// terminators inside tokens ("3.14", "e.g.x") are not cuts.
func sentenceCuts(text string, start, end int) []int {
	var cuts []int
	for i := start; i < end; i++ {
		if !isTerminator(text[i]) {
			continue
		}
		if i+1 < end && text[i+1] == ' ' && listingMarker(text, start, i) {
			continue
		}
		j := i + 1
		for j < end && isTerminator(text[j]) {
			j++
		}
		for j < end && isCloser(text[j]) {
			j++
		}
		if j < end && !isSpaceByte(text[j]) {
			i = j - 1
			continue
		}
		for j < end && isSpaceByte(text[j]) {
			j++
		}
		cuts = append(cuts, j)
		i = j - 1
	}
	return cuts
}

// splitOversized cuts segments that do not fit into the largest fitting
// pieces at rune boundaries. A piece always holds at least one rune.
func splitOversized(text string, segs []span, fits func(int, int) bool) []span {
	out := make([]span, 0, len(segs))
	for _, s := range segs {
		for s.start < s.end && !fits(s.start, s.end) {
			var bounds []int
			for off := range text[s.start:s.end] {
				if off > 0 {
					bounds = append(bounds, s.start+off)
				}
			}
			k := sort.Search(len(bounds), func(i int) bool {
				return !fits(s.start, bounds[i])
			})
			cut := s.end
			if k > 0 {
				cut = bounds[k-1]
			} else if len(bounds) > 0 {
				cut = bounds[0]
			}
			out = append(out, span{start: s.start, end: cut})
			s.start = cut
		}
		if s.start < s.end {
			out = append(out, s)
		}
	}
	return out
}
