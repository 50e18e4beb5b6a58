package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchema struct {
	version uint
	opened  int
}

func (f *fakeSchema) migrator() migrator {
	return migrator{
		up:      func(*sql.DB) error { f.version = 1; return nil },
		down:    func(*sql.DB) error { f.version = 0; return nil },
		version: func(*sql.DB) (uint, bool, error) { return f.version, false, nil },
	}
}

func (f *fakeSchema) open(context.Context) (*sql.DB, error) {
	f.opened++
	// sql.Open does not dial; Close on an unused pool is safe.
	return sql.Open("pgx", "postgres://unused@127.0.0.1:1/none")
}

func run(t *testing.T, f *fakeSchema, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(f.open, f.migrator())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestUpThenVersion(t *testing.T) {
	f := &fakeSchema{}
	out, err := run(t, f, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1 (dirty=false)")

	out, err = run(t, f, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1")
}

func TestDownRequiresConfirmation(t *testing.T) {
	f := &fakeSchema{version: 1}
	_, err := run(t, f, "down")
	require.Error(t, err)
	assert.Equal(t, uint(1), f.version)
	assert.Zero(t, f.opened, "database must not be opened without --yes")

	out, err := run(t, f, "down", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "version 0")
}

func TestOpenErrorIsReturned(t *testing.T) {
	root := newRootCmd(func(context.Context) (*sql.DB, error) { return nil, errors.New("dial tcp: refused") }, (&fakeSchema{}).migrator())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"version"})
	assert.ErrorContains(t, root.Execute(), "refused")
}
