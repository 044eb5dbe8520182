package codemode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractBlocks_SingleBlock(t *testing.T) {
	text := "before <codemode>async function codemode() { return 1; }</codemode> after"
	blocks := ExtractBlocks(text)
	require.Equal(t, []string{"async function codemode() { return 1; }"}, blocks)
}

func TestExtractBlocks_MultipleBlocksLeftToRight(t *testing.T) {
	text := "<codemode>one</codemode> middle <codemode>two</codemode>"
	require.Equal(t, []string{"one", "two"}, ExtractBlocks(text))
}

func TestExtractBlocks_NoBlocksReturnsEmpty(t *testing.T) {
	require.Empty(t, ExtractBlocks("just plain text"))
}

func TestExtractBlocks_UnterminatedBlockIgnored(t *testing.T) {
	text := "<codemode>still streaming..."
	require.Empty(t, ExtractBlocks(text))
}

func TestExtractBlocks_UnterminatedTrailingBlockAfterCompleteOne(t *testing.T) {
	text := "<codemode>done</codemode><codemode>partial"
	require.Equal(t, []string{"done"}, ExtractBlocks(text))
}
