// Package chunker splits extracted page text into bounded, ordered chunks.
package chunker

import (
	"slices"
	"strings"
	"unicode"
)

const strategySample = 1000

type Chunk struct {
	Text               string
	PageNum            int
	ChunkNum           int
	TokenCount         int
	StartPos           int
	EndPos             int
	IsSentenceBoundary bool
}

// Len is the chunk size in characters.
func (c Chunk) Len() int {
	return c.EndPos - c.StartPos
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Chunker{cfg: cfg}, nil
}

func (c *Chunker) Config() Config {
	return c.cfg
}

type piece struct {
	span
	sentence bool
}

// Chunk cleans text and segments it. ChunkNum starts at 0 for every call and
// StartPos/EndPos are rune offsets into the cleaned text.
func (c *Chunker) Chunk(text string, page int) []Chunk {
	cleaned := []rune(Clean(text, c.cfg.RespectParagraphs))
	if len(cleaned) == 0 {
		return nil
	}

	var pieces []piece
	if c.strategyFor(cleaned) == StrategySentence {
		pieces = c.bySentence(cleaned)
	} else {
		pieces = c.byCharacter(cleaned)
	}

	res := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		s := string(cleaned[p.start:p.end])
		res = append(res, Chunk{
			Text:               s,
			PageNum:            page,
			ChunkNum:           len(res),
			TokenCount:         len(strings.Fields(s)),
			StartPos:           p.start,
			EndPos:             p.end,
			IsSentenceBoundary: p.sentence,
		})
	}

	return res
}

func (c *Chunker) strategyFor(text []rune) Strategy {
	if c.cfg.Strategy != StrategyAuto {
		return c.cfg.Strategy
	}

	sample := text[:min(len(text), strategySample)]
	if !slices.ContainsFunc(sample, isTerminal) {
		return StrategyCharacter
	}

	total, count := 0, 0
	for s := range sentences(sample) {
		total += s.len()
		count++
	}

	if count == 0 || float64(total)/float64(count) >= float64(c.cfg.ChunkSize) {
		return StrategyCharacter
	}

	return StrategySentence
}

func (c *Chunker) bySentence(text []rune) []piece {
	var res []piece
	var run []span

	emit := func(ss []span) {
		res = append(res, piece{span: span{ss[0].start, ss[len(ss)-1].end}, sentence: true})
	}

	for s := range sentences(text) {
		if s.len() > c.cfg.MaxUnitLength {
			if len(run) > 0 {
				emit(run)
				run = nil
			}
			res = append(res, c.byWords(text, s)...)
			continue
		}

		if len(run) == 0 || s.end-run[0].start <= c.cfg.ChunkSize {
			run = append(run, s)
			continue
		}

		if run[len(run)-1].end-run[0].start < c.cfg.MinChunkSize {
			run = append(run, s)
			continue
		}

		emit(run)
		// the size bound wins: overlap sentences that would push the next
		// chunk past ChunkSize are dropped from the front
		tail := c.overlapTail(run)
		for len(tail) > 0 && s.end-tail[0].start > c.cfg.ChunkSize {
			tail = tail[1:]
		}
		run = append(slices.Clone(tail), s)
	}

	if len(run) > 0 {
		emit(run)
	}

	return res
}

// overlapTail returns the shortest suffix of run spanning at least
// ChunkOverlap characters.
func (c *Chunker) overlapTail(run []span) []span {
	if c.cfg.ChunkOverlap == 0 {
		return nil
	}

	last := run[len(run)-1].end
	i := len(run) - 1
	for i > 0 && last-run[i].start < c.cfg.ChunkOverlap {
		i--
	}

	return run[i:]
}

// byWords splits one oversized sentence on word boundaries. A single word
// longer than ChunkSize becomes its own piece.
func (c *Chunker) byWords(text []rune, s span) []piece {
	var res []piece
	var cur span
	open := false

	for w := range words(text, s) {
		if !open {
			cur, open = w, true
			continue
		}

		if w.end-cur.start <= c.cfg.ChunkSize {
			cur.end = w.end
			continue
		}

		res = append(res, piece{span: cur})
		cur = w
	}

	if open {
		res = append(res, piece{span: cur})
	}

	return res
}

func (c *Chunker) byCharacter(text []rune) []piece {
	var res []piece
	n := len(text)
	start := 0

	for start < n {
		end := min(start+c.cfg.ChunkSize, n)
		if end < n {
			e := end
			for e > start && !unicode.IsSpace(text[e]) {
				e--
			}
			if e > start {
				end = e
			}
		}

		p := trim(text, span{start, end})
		if p.len() > 0 && (p.len() >= c.cfg.MinChunkSize || end == n) {
			res = append(res, piece{span: p})
		}

		if end == n {
			break
		}

		start = max(end-c.cfg.ChunkOverlap, start+1)
	}

	return res
}
