package relay

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestSplitShortTextSingleSegment(t *testing.T) {
	segments := Split("Hello, world.", 4000)

	require.Len(t, segments, 1)
	assert.Equal(t, "Hello, world.", segments[0])
}

func TestSplitEmptyAndWhitespace(t *testing.T) {
	assert.Nil(t, Split("", 4000))
	assert.Nil(t, Split("   \n\n  ", 4000))
}

func TestSplitRespectsCeiling(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 400) // ~10800 chars

	segments := Split(text, 4000)

	require.GreaterOrEqual(t, len(segments), 3)
	for i, seg := range segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 4000, "segment %d over ceiling", i+1)
		assert.NotEmpty(t, seg)
	}
}

func TestSplitReassemblyLosesOnlyBoundaryWhitespace(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 500)

	segments := Split(text, 1000)

	assert.Equal(t, stripSpace(text), stripSpace(strings.Join(segments, "")))
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	first := strings.Repeat("a", 80) // past halfway of a 100-char ceiling
	second := strings.Repeat("b", 60)
	text := first + "\n\n" + second

	segments := Split(text, 100)

	require.Len(t, segments, 2)
	assert.Equal(t, first, segments[0])
	assert.Equal(t, second, segments[1])
}

func TestSplitIgnoresEarlyBreaks(t *testing.T) {
	// The only paragraph break sits before the halfway point, so the
	// splitter falls through to the sentence break further in.
	text := strings.Repeat("a", 10) + "\n\n" + strings.Repeat("b", 60) + ". " + strings.Repeat("c", 80)

	segments := Split(text, 100)

	require.GreaterOrEqual(t, len(segments), 2)
	assert.True(t, strings.HasSuffix(segments[0], strings.Repeat("b", 60)+"."),
		"first segment should end at the sentence break, got %q", segments[0])
}

func TestSplitHardCutWithoutSeparators(t *testing.T) {
	text := strings.Repeat("x", 250)

	segments := Split(text, 100)

	require.Len(t, segments, 3)
	assert.Equal(t, strings.Repeat("x", 100), segments[0])
	assert.Equal(t, strings.Repeat("x", 100), segments[1])
	assert.Equal(t, strings.Repeat("x", 50), segments[2])
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	// 4-byte runes: a byte-based cut would split far too early or tear
	// a rune apart.
	text := strings.Repeat("😀", 150)

	segments := Split(text, 100)

	require.Len(t, segments, 2)
	assert.Equal(t, 100, utf8.RuneCountInString(segments[0]))
	assert.Equal(t, 50, utf8.RuneCountInString(segments[1]))
	for _, seg := range segments {
		assert.True(t, utf8.ValidString(seg))
	}
}

func TestSplitOrderPreserved(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("sentence number ")
		b.WriteByte(byte('0' + i%10))
		b.WriteString(". ")
	}

	segments := Split(b.String(), 300)

	joined := strings.Join(segments, " ")
	assert.Equal(t, stripSpace(b.String()), stripSpace(joined))
}
