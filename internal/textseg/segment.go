// Package textseg splits long narration scripts into bounded chunks at
// natural language boundaries.
//
// Sizes are measured in runes. Concatenating the returned chunks always
// reproduces the input exactly, and a split point never falls inside an
// inline markup token such as "<break time=\"1s\"/>" or "[pause]".
package textseg

import "unicode"

// Options bounds the chunk sizes in runes.
type Options struct {
	Min int
	Max int
}

// DefaultOptions mirrors the synthesis defaults.
var DefaultOptions = Options{Min: 1000, Max: 2500}

func (o Options) normalized() Options {
	if o.Max <= 0 {
		o.Max = DefaultOptions.Max
	}
	if o.Min < 0 {
		o.Min = 0
	}
	if o.Min > o.Max {
		o.Min = o.Max
	}
	return o
}

// maxMarkupRunes caps how far a markup token may extend before its opening
// bracket is treated as plain text.
const maxMarkupRunes = 200

type boundaryKind int

const (
	boundaryWord boundaryKind = iota + 1
	boundarySentence
)

type layout struct {
	runes []rune
	// kind[i] is non-zero when a chunk may start at rune i.
	kind []boundaryKind
	// protected[i] is true when rune i sits inside a markup token (not at its first rune).
	protected []bool
}

// Split returns the ordered chunks of text. Text no longer than opts.Max is
// returned as a single chunk; empty text yields nil.
func Split(text string, opts Options) []string {
	if text == "" {
		return nil
	}
	opts = opts.normalized()
	l := analyze(text)
	n := len(l.runes)
	if n <= opts.Max {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		remaining := n - start
		if remaining <= opts.Max {
			chunks = append(chunks, string(l.runes[start:]))
			break
		}
		cut := l.chooseCut(start, opts)
		chunks = append(chunks, string(l.runes[start:cut]))
		start = cut
	}
	return mergeSmall(chunks, opts)
}

// chooseCut picks the end of the chunk beginning at start.
func (l *layout) chooseCut(start int, opts Options) int {
	n := len(l.runes)
	remaining := n - start
	parts := (remaining + opts.Max - 1) / opts.Max
	target := start + remaining/parts

	lo := start + opts.Min
	if lo <= start {
		lo = start + 1
	}
	hi := start + opts.Max
	if hi > n-1 {
		hi = n - 1
	}

	if cut, ok := l.closest(lo, hi, target, boundarySentence); ok {
		return cut
	}
	if cut, ok := l.closest(lo, hi, target, boundaryWord); ok {
		return cut
	}
	return l.hardCut(start, hi)
}

// closest returns the boundary of at least the given kind in [lo, hi]
// nearest to target. Ties resolve to the later position.
func (l *layout) closest(lo, hi, target int, want boundaryKind) (int, bool) {
	best, bestDist := -1, 0
	for i := lo; i <= hi; i++ {
		if l.kind[i] < want {
			continue
		}
		d := i - target
		if d < 0 {
			d = -d
		}
		if best < 0 || d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

// hardCut splits a single oversized token at hi, moving out of any markup.
func (l *layout) hardCut(start, hi int) int {
	cut := hi
	for cut > start && l.protected[cut] {
		cut--
	}
	if cut > start {
		return cut
	}
	cut = hi
	for cut < len(l.runes) && l.protected[cut] {
		cut++
	}
	return cut
}

// mergeSmall folds undersized chunks into a neighbour. The final chunk is
// allowed to stay below the floor.
func mergeSmall(chunks []string, opts Options) []string {
	if opts.Min == 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, 0, len(chunks))
	for i := 0; i < len(chunks); i++ {
		c := chunks[i]
		last := i == len(chunks)-1
		if !last && runeLen(c) < opts.Min {
			chunks[i+1] = c + chunks[i+1]
			continue
		}
		out = append(out, c)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func analyze(text string) *layout {
	runes := []rune(text)
	n := len(runes)
	l := &layout{
		runes:     runes,
		kind:      make([]boundaryKind, n+1),
		protected: make([]bool, n+1),
	}
	markMarkup(l)

	for i := 0; i < n; i++ {
		if l.protected[i] || !unicode.IsSpace(runes[i]) {
			continue
		}
		// Boundaries sit after a run of whitespace.
		j := i
		for j < n && unicode.IsSpace(runes[j]) && !l.protected[j] {
			j++
		}
		if j >= n {
			break
		}
		if l.protected[j] {
			i = j
			continue
		}
		kind := boundaryWord
		if endsSentence(runes, i) || paragraphBreak(runes[i:j]) {
			kind = boundarySentence
		}
		l.kind[j] = kind
		i = j - 1
	}

	// Scripts without spaces after terminal punctuation, such as CJK text.
	for i := 0; i < n-1; i++ {
		if l.protected[i+1] || l.kind[i+1] != 0 || unicode.IsSpace(runes[i+1]) {
			continue
		}
		if isCJKTerminal(runes[i]) {
			l.kind[i+1] = boundarySentence
		}
	}
	return l
}

func markMarkup(l *layout) {
	runes := l.runes
	n := len(runes)
	for i := 0; i < n; i++ {
		var closer rune
		switch runes[i] {
		case '<':
			closer = '>'
		case '[':
			closer = ']'
		default:
			continue
		}
		end := -1
		for j := i + 1; j < n && j-i <= maxMarkupRunes; j++ {
			if runes[j] == closer {
				end = j
				break
			}
			if runes[j] == runes[i] {
				break
			}
		}
		if end < 0 {
			continue
		}
		for k := i + 1; k <= end; k++ {
			l.protected[k] = true
		}
		i = end
	}
}

// endsSentence reports whether the whitespace at ws follows terminal
// punctuation, optionally wrapped in closing quotes or brackets.
func endsSentence(runes []rune, ws int) bool {
	k := ws - 1
	for k >= 0 && isCloser(runes[k]) {
		k--
	}
	if k < 0 {
		return false
	}
	return isTerminal(runes[k])
}

func paragraphBreak(ws []rune) bool {
	count := 0
	for _, r := range ws {
		if r == '\n' {
			count++
		}
	}
	return count >= 2
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', ';':
		return true
	}
	return isCJKTerminal(r)
}

func isCJKTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '；':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’', '」', '』', '>':
		return true
	}
	return false
}
