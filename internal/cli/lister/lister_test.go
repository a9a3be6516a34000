package lister

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListing(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "bq ls json",
			in: `[
				{"kind": "bigquery#table", "tableReference": {"projectId": "p", "datasetId": "sales", "tableId": "orders"}, "type": "TABLE"},
				{"tableReference": {"projectId": "p", "datasetId": "sales", "tableId": "orders_v"}, "type": "VIEW"},
				{"tableReference": {"projectId": "p", "datasetId": "sales", "tableId": "churn"}, "type": "MODEL"}
			]`,
			want: []string{"orders", "orders_v"},
		},
		{name: "string array", in: `["a", " b ", ""]`, want: []string{"a", "b"}},
		{name: "plain lines", in: "a\n\n b \n", want: []string{"a", "b"}},
		{name: "empty", in: "  ", want: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseListing([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseListing([]byte(`[{"tableReference": `))
	assert.Error(t, err)
}

func script(t *testing.T, content string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping shell script lister test on Windows")
	}
	path := filepath.Join(t.TempDir(), "ls.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+content), 0755))
	return path
}

func TestExecLister(t *testing.T) {
	ls := script(t, `echo '[{"tableReference": {"datasetId": "'"$2"'", "tableId": "t1"}}, {"tableReference": {"tableId": "t2"}}]'`)

	l, err := NewExecLister([]string{ls, "--format=json", "{dataset}"}, nil)
	require.NoError(t, err)
	tables, err := l.ListTables(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tables)

	appended, err := NewExecLister([]string{ls, "--format=json"}, nil)
	require.NoError(t, err)
	tables, err = appended.ListTables(context.Background(), "sales")
	require.NoError(t, err)
	assert.Len(t, tables, 2)
}

func TestExecLister_Failure(t *testing.T) {
	ls := script(t, "echo 'BigQuery error in ls operation: Not found: Dataset p:nope' >&2\nexit 1\n")
	l, err := NewExecLister([]string{ls}, nil)
	require.NoError(t, err)

	_, err = l.ListTables(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not found: Dataset p:nope")

	_, err = NewExecLister(nil, nil)
	assert.Error(t, err)
}
