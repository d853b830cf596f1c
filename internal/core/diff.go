package core

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/illarion/keyguard/internal/crypto"
	"github.com/illarion/keyguard/internal/keystore"
)

const (
	textSampleSize   = 8192 // Bytes to sample for text/binary detection
	textThresholdPct = 10   // Max % non-printable chars for text
)

// isText guesses whether data is text: no NUL bytes, valid UTF-8 and few
// control characters in the first textSampleSize bytes.
func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sample := data[:min(len(data), textSampleSize)]
	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		if (b < 32 && b != '\t' && b != '\n' && b != '\r') || b == 127 {
			nonPrintable++
		}
	}
	return nonPrintable <= len(sample)*textThresholdPct/100
}

const contextLines = 3

type diffLine struct {
	op   byte // ' ', '-' or '+'
	text string
}

// unifiedDiff renders the change from archived to scratch as a unified
// diff, or "" when they are identical. Binary content gets a one-line
// notice instead.
func unifiedDiff(name string, archived, scratch []byte) string {
	if crypto.ConstantTimeCompare(archived, scratch) {
		return ""
	}
	if !isText(archived) || !isText(scratch) {
		return fmt.Sprintf("Binary key file %s differs\n", name)
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for readable output
	a, b, lines := dmp.DiffLinesToChars(string(archived), string(scratch))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var rows []diffLine
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				rows = append(rows, diffLine{op: op, text: strings.TrimSuffix(line, "\n")})
			}
		}
	}

	// Keep changed rows and their context
	keep := make([]bool, len(rows))
	for i, row := range rows {
		if row.op == ' ' {
			continue
		}
		for j := max(0, i-contextLines); j <= min(len(rows)-1, i+contextLines); j++ {
			keep[j] = true
		}
	}

	var result strings.Builder
	fmt.Fprintf(&result, "--- encrypted/%s%s\n", name, keystore.CipherExt)
	fmt.Fprintf(&result, "+++ %s%s\n", name, keystore.PlainExt)

	oldLine, newLine := 1, 1
	for i := 0; i < len(rows); {
		if !keep[i] {
			oldLine++
			newLine++
			i++
			continue
		}

		end := i
		oldCount, newCount := 0, 0
		for ; end < len(rows) && keep[end]; end++ {
			if rows[end].op != '+' {
				oldCount++
			}
			if rows[end].op != '-' {
				newCount++
			}
		}

		fmt.Fprintf(&result, "@@ -%s +%s @@\n", hunkRange(oldLine, oldCount), hunkRange(newLine, newCount))
		for _, row := range rows[i:end] {
			result.WriteByte(row.op)
			result.WriteString(row.text)
			result.WriteByte('\n')
		}

		oldLine += oldCount
		newLine += newCount
		i = end
	}
	return result.String()
}

func hunkRange(start, count int) string {
	if count == 0 {
		start--
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Diff compares name's archive with its scratch copy, which only both
// exist in the Both state. An empty string means they are identical and
// the scratch copy can be discarded without losing anything.
func (r *Runner) Diff(ctx context.Context, name string, key *crypto.Key) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	state, err := r.store.State(name)
	if err != nil {
		return "", err
	}
	if state != keystore.Both {
		if !state.HasCiphertext() {
			return "", fmt.Errorf("%w not found: %s", keystore.ErrNoArchive, r.store.ArchivePath(name))
		}
		return "", fmt.Errorf("%w not found: %s", keystore.ErrNoKeyFile, r.store.PlaintextPath(name))
	}

	archived, err := r.store.ReadArchive(name, key)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(archived)

	scratch, err := r.store.ReadPlaintext(name)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(scratch)

	return unifiedDiff(name, archived, scratch), nil
}
