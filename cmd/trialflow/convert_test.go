package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikkeyboi/custom-neuropype/pkg/engine"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/table"
)

func TestParseMetadata(t *testing.T) {
	md, err := parseMetadata([]string{"subject=s01", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"subject": "s01", "note": "a=b", "empty": ""}, md)

	for _, bad := range []string{"subject", "=s01"} {
		_, err := parseMetadata([]string{bad})
		assert.True(t, errors.IsCode(err, errors.CodeConfig), bad)
	}
}

func TestOutputMetadata(t *testing.T) {
	tbl := &table.Table{Kind: table.KindMarkers}
	md := outputMetadata(tbl, engine.Summary{Protocol: "taskswitch", RunID: "abc"},
		map[string]string{"subject": "s01", "trialflow:run_id": "override"})

	assert.Equal(t, "markers", md["trialflow:kind"])
	assert.Equal(t, "taskswitch", md["trialflow:protocol"])
	assert.Equal(t, version, md["trialflow:version"])
	assert.Equal(t, "s01", md["subject"])
	assert.Equal(t, "override", md["trialflow:run_id"])
}

func TestBatchJobs(t *testing.T) {
	jobs, err := batchJobs([]string{"a/s01.jsonl", "b/s02.csv"}, "out", "bad", ".parquet")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"a/s01.jsonl"}, jobs[0].inputs)
	assert.Equal(t, filepath.Join("out", "s01.parquet"), jobs[0].output)
	assert.Equal(t, filepath.Join("bad", "s02.quarantine.jsonl"), jobs[1].quarantine)

	jobs, err = batchJobs([]string{"s01.jsonl"}, "out", "", ".csv")
	require.NoError(t, err)
	assert.Empty(t, jobs[0].quarantine)

	for _, inputs := range [][]string{
		{"a/s01.jsonl", "b/s01.jsonl"},
		{"a/s01.jsonl", "a/s01.csv"},
		{"a/S01.jsonl", "b/s01.jsonl"},
	} {
		_, err := batchJobs(inputs, "out", "", ".parquet")
		assert.True(t, errors.IsCode(err, errors.CodeConfig), "%v", inputs)
	}
}
