package main

import (
	"bytes"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T, cli *CLI) *kong.Kong {
	t.Helper()
	parser, err := kong.New(cli, kong.Name("fwhistory"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	return parser
}

func TestParseHistoryFlags(t *testing.T) {
	var cli CLI
	ctx, err := newParser(t, &cli).Parse([]string{"history", "-m", "SM-G991B", "-r", "EUX", "--no-changelogs", "-v"})
	require.NoError(t, err)

	assert.Equal(t, "history", ctx.Command())
	assert.Equal(t, "SM-G991B", cli.History.Model)
	assert.Equal(t, "EUX", cli.History.Region)
	assert.Equal(t, "-", cli.History.Output)
	assert.True(t, cli.History.NoChangelogs)
	assert.True(t, cli.Verbose)
}

func TestParseDefaultCommand(t *testing.T) {
	var cli CLI
	_, err := newParser(t, &cli).Parse([]string{"--model", "SM-G991B", "--region", "EUX"})
	require.NoError(t, err)
	assert.Equal(t, "SM-G991B", cli.History.Model)
}

func TestParseNormalize(t *testing.T) {
	var cli CLI
	ctx, err := newParser(t, &cli).Parse([]string{"normalize", "A/B", "A/B/C"})
	require.NoError(t, err)
	assert.Equal(t, "normalize <firmware>", ctx.Command())
	assert.Equal(t, []string{"A/B", "A/B/C"}, cli.Normalize.Firmware)
}

func TestWriteNormalized(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeNormalized(&buf, []string{"A/B", "A/B/C", "A/B/C/D"}))
	assert.Equal(t, "A/B/A/A\nA/B/C/A\nA/B/C/D\n", buf.String())
}
