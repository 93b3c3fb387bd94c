package report

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Parser turns a memchecker text report into a Report. It resynchronizes
// at block boundaries so one malformed block never loses the rest of the
// report (spec §4.A, §7: ParseError is recoverable).
type Parser struct {
	// maxRecoveryAttempts bounds how many times the parser tries to
	// resynchronize within a single block before giving up on it.
	maxRecoveryAttempts int
}

func NewParser() *Parser {
	return &Parser{maxRecoveryAttempts: 2}
}

// Recognized line shapes. The checker's human-readable format is stable
// enough to match line-by-line without a full grammar.
var (
	sizeLineRe = regexp.MustCompile(
		`^\s*(\d+)\s*\((\d+)\s+direct,\s*(\d+)\s+indirect\)\s*bytes in\s*(\d+)\s*blocks are (definitely|indirectly|possibly) lost in loss record\s*(\d+)\s*of\s*(\d+)`)
	stillReachableRe = regexp.MustCompile(
		`^\s*(\d+)\s*(?:\(\d+\s+direct,\s*\d+\s+indirect\)\s*)?bytes in\s*(\d+)\s*blocks are still reachable in loss record\s*(\d+)\s*of\s*(\d+)`)
	frameRe = regexp.MustCompile(`^\s*(at|by)\s+0x[0-9a-fA-F]+:\s*(\S+)\s*\(([^:)]+):?(\d+)?\)`)
	frameNoSrcRe = regexp.MustCompile(`^\s*(at|by)\s+0x[0-9a-fA-F]+:\s*(\S+)\s*(?:\(in [^)]*\))?\s*$`)
	summaryLineRe = regexp.MustCompile(
		`^\s*(?:definitely|indirectly|possibly)?\s*lost:\s*([\d,]+)\s*bytes in\s*([\d,]+)\s*blocks`)

	// valgrindPrefixRe strips the "==PID==" process-tag Valgrind prefixes
	// every report line carries; every regex above is anchored at the
	// start of the line's actual content, not this tag.
	valgrindPrefixRe = regexp.MustCompile(`^==\d+==\s?`)
)

// ParseError / Malformed / Empty are documented in spec §4.A/§7.
const (
	CodeMalformed = "MALFORMED"
	CodeEmpty     = "EMPTY"
)

// Parse reads the entirety of r and returns the structured Report. It
// never returns an error for the report's content: a malformed individual
// block is skipped and the scan continues, and input with no recognizable
// leak content at all yields an empty Report and a nil error, which the
// caller treats as a normal "no leaks" outcome.
func (p *Parser) Parse(r io.Reader) (Report, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rep Report
	var sawAnyBlock bool

	lines := make([]string, 0, 256)
	for sc.Scan() {
		lines = append(lines, valgrindPrefixRe.ReplaceAllString(sc.Text(), ""))
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := sizeLineRe.FindStringSubmatch(line); m != nil {
			sawAnyBlock = true
			rec, consumed, ok := p.parseDefiniteBlock(lines, i, m)
			if ok {
				rep.Records = append(rep.Records, rec)
				applySummary(&rep.Summary, rec)
				i += consumed
				continue
			}
			// Recovery: resynchronize at the next block boundary within
			// the recovery budget, then give up on this block only.
			i = p.recover(lines, i+1)
			continue
		}

		if m := stillReachableRe.FindStringSubmatch(line); m != nil {
			sawAnyBlock = true
			bytes, _ := strconv.Atoi(stripCommas(m[1]))
			blocks, _ := strconv.Atoi(stripCommas(m[2]))
			idx, _ := strconv.Atoi(m[3])
			total, _ := strconv.Atoi(m[4])
			rep.Records = append(rep.Records, LeakRecord{
				BytesDirect: bytes, Blocks: blocks,
				LossRecordIndex: idx, LossRecordTotal: total,
				CategoryHint: StillReachable,
			})
			rep.Summary.StillReachableCount++
			rep.Summary.StillReachableBytes += bytes
			i++
			continue
		}

		if m := summaryLineRe.FindStringSubmatch(line); m != nil {
			sawAnyBlock = true
			_ = m
		}

		i++
	}

	if !sawAnyBlock {
		return rep, nil // Empty: normal "no leaks found" outcome, not an error.
	}
	return rep, nil
}

// parseDefiniteBlock parses one "N (D direct, I indirect) bytes..." block
// starting at lines[start], consuming the size line plus its stack frames.
// Returns (record, linesConsumed, ok).
func (p *Parser) parseDefiniteBlock(lines []string, start int, m []string) (LeakRecord, int, bool) {
	bytesDirect, _ := strconv.Atoi(m[2])
	bytesIndirect, _ := strconv.Atoi(m[3])
	blocks, _ := strconv.Atoi(m[4])
	hint := hintFromWord(m[5])
	idx, _ := strconv.Atoi(m[6])
	total, _ := strconv.Atoi(m[7])

	rec := LeakRecord{
		BytesDirect:     bytesDirect,
		BytesIndirect:   bytesIndirect,
		Blocks:          blocks,
		LossRecordIndex: idx,
		LossRecordTotal: total,
		CategoryHint:    hint,
	}

	j := start + 1
	for j < len(lines) {
		fm := frameRe.FindStringSubmatch(lines[j])
		if fm != nil {
			line := 0
			if fm[4] != "" {
				line, _ = strconv.Atoi(fm[4])
			}
			file := fm[3]
			if line == 0 {
				file = "?"
			}
			rec.AllocStack = append(rec.AllocStack, Frame{
				Function: fm[2],
				File:     file,
				Line:     line,
			})
			j++
			continue
		}
		if nm := frameNoSrcRe.FindStringSubmatch(lines[j]); nm != nil {
			rec.AllocStack = append(rec.AllocStack, Frame{
				Function: nm[2], File: "?", Line: 0,
			})
			j++
			continue
		}
		break
	}

	if len(rec.AllocStack) == 0 {
		// No frames recovered at all: treat the block as malformed so the
		// caller's resynchronization logic takes over.
		return LeakRecord{}, 0, false
	}

	if hint == Definitely && !rec.InnermostFrame().HasDebugInfo() {
		rec.DropReason = "NoDebugInfo"
	}

	return rec, j - start, true
}

// recover scans forward from idx looking for the next block-start line,
// within p.maxRecoveryAttempts blank-line-delimited spans. This mirrors
// panic-mode recovery: give up on the current block, resynchronize at a
// clear boundary, and keep going.
func (p *Parser) recover(lines []string, idx int) int {
	attempts := 0
	for idx < len(lines) && attempts < p.maxRecoveryAttempts {
		if strings.TrimSpace(lines[idx]) == "" {
			attempts++
		}
		if sizeLineRe.MatchString(lines[idx]) || stillReachableRe.MatchString(lines[idx]) {
			return idx
		}
		idx++
	}
	return idx
}

func hintFromWord(w string) CategoryHint {
	switch w {
	case "definitely":
		return Definitely
	case "indirectly":
		return Indirectly
	case "possibly":
		return Possibly
	default:
		return Possibly
	}
}

func applySummary(s *Summary, rec LeakRecord) {
	switch rec.CategoryHint {
	case Definitely:
		s.DefinitelyCount++
		s.DefinitelyBytes += rec.BytesDirect + rec.BytesIndirect
	case Indirectly:
		s.IndirectlyCount++
		s.IndirectlyBytes += rec.BytesDirect + rec.BytesIndirect
	case Possibly:
		s.PossiblyCount++
		s.PossiblyBytes += rec.BytesDirect + rec.BytesIndirect
	}
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
