package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowsFlagsAfterArguments(t *testing.T) {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "")
	positional, err := parse(fs, []string{"abc123", "-yes"})
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, positional)
	assert.True(t, *yes)

	fs = flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "all", "")
	positional, err = parse(fs, []string{"-status", "failed"})
	require.NoError(t, err)
	assert.Empty(t, positional)
	assert.Equal(t, "failed", *status)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := parse(fs, []string{"id", "-bogus"})
	assert.Error(t, err)
}

func TestExactlyOne(t *testing.T) {
	id, err := exactlyOne("show", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	_, err = exactlyOne("show", nil)
	assert.Error(t, err)
	_, err = exactlyOne("show", []string{"a", "b"})
	assert.Error(t, err)
}

func TestEveryCommandIsRegistered(t *testing.T) {
	for _, name := range []string{"register", "login", "logout", "whoami", "upload", "list", "show", "delete", "download", "search"} {
		assert.Contains(t, commands, name)
	}
}
