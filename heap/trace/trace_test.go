package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap/block"
)

func TestRender(t *testing.T) {
	require.Equal(t, "<empty>", Render(nil))

	spans := []block.Block{
		block.New(0x1000, 128),
		block.New(0x2000, 64),
	}
	require.Equal(t, "|0x1000+128|0x2000+64|", Render(spans))
}

func TestInitAndOp(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Enabled: true, Output: &buf})
	defer Init(Options{})

	Op("free", "base", 0x1000, "size", 128)
	require.True(t, Enabled())
	require.Contains(t, buf.String(), "free")
	require.Contains(t, buf.String(), "size=128")
}

func TestDisabledDiscards(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Enabled: true, Output: &buf})
	Init(Options{})

	Op("alloc")
	require.False(t, Enabled())
	require.Empty(t, buf.String())
}

func TestHumanBytes(t *testing.T) {
	got := HumanBytes(1234567)
	require.True(t, strings.HasSuffix(got, " B"))
	require.Contains(t, got, ",")
}
