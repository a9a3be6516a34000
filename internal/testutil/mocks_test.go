package testutil_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stackvity/bqbatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The testify mocks only record calls; StubAnalyzer carries a little logic of
// its own, so it gets a direct test.
func TestStubAnalyzer(t *testing.T) {
	items := testutil.Tables(t, "p.d.a", "p.d.b", "p.d.c")
	stub := &testutil.StubAnalyzer{
		Payloads: map[string]any{"p.d.a": 1},
		Fail:     map[string]error{"p.d.b": errors.New("boom")},
	}

	got, err := stub.Analyze(context.Background(), items[0])
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	_, err = stub.Analyze(context.Background(), items[1])
	assert.EqualError(t, err, "boom")

	got, err = stub.Analyze(context.Background(), items[2])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "p.d.c"}, got)

	assert.Equal(t, 3, stub.CallCount())
	assert.Equal(t, []string{"p.d.a", "p.d.b", "p.d.c"}, stub.Calls())
}
