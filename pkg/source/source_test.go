package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJSONLReader(t *testing.T) {
	input := strings.Join([]string{
		`{"time": 0.5, "marker": "{\"CameraRecenter\":true}"}`,
		``,
		`{"time": 1.25, "marker": {"TrialState":{"trialIndex":1,"trialPhaseIndex":1}}}`,
	}, "\n")

	got, err := JSONLReader{}.Read(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []model.Marker{
		{Time: 0.5, Payload: `{"CameraRecenter":true}`},
		{Time: 1.25, Payload: `{"TrialState":{"trialIndex":1,"trialPhaseIndex":1}}`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONLReader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `time=1 marker=x`},
		{"missing time", `{"marker": "{}"}`},
		{"missing marker", `{"time": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSONLReader{}.Read(context.Background(), strings.NewReader(tt.input))
			if !errors.IsCode(err, errors.CodeInput) {
				t.Fatalf("Expected InputError, got %v", err)
			}
		})
	}
}

func TestCSVReader(t *testing.T) {
	input := "\ufeffTimestamp,Channel,Marker\n" +
		`0.5,markers,"{""CameraRecenter"":true}"` + "\n" +
		`1.0,markers,"{""Input:"":{""selectedObjectClass"":""Target""}}"` + "\n"

	got, err := CSVReader{}.Read(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []model.Marker{
		{Time: 0.5, Payload: `{"CameraRecenter":true}`},
		{Time: 1.0, Payload: `{"Input:":{"selectedObjectClass":"Target"}}`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVReader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no marker column", "time,value\n1,2\n"},
		{"bad time", "time,marker\nsoon,{}\n"},
		{"short row", "marker,time\n{}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CSVReader{}.Read(context.Background(), strings.NewReader(tt.input))
			if !errors.IsCode(err, errors.CodeInput) {
				t.Fatalf("Expected InputError, got %v", err)
			}
		})
	}
}

func TestFormats(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"session.jsonl", FormatJSONL},
		{"session.NDJSON", FormatJSONL},
		{"session.csv", FormatCSV},
		{"session.tsv", FormatTSV},
		{"session.xdf", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}

	if _, err := ReaderFor(FormatUnknown); !errors.IsCode(err, errors.CodeInput) {
		t.Errorf("Expected InputError, got %v", err)
	}
}

func TestReadAll(t *testing.T) {
	a := writeFile(t, "a.jsonl", `{"time": 1, "marker": "{\"CameraRecenter\":true}"}`+"\n")
	b := writeFile(t, "b.tsv", "time\tmarker\n2\t{\"CameraRecenter\":false}\n")

	got, err := ReadAll(context.Background(), a, b)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 || got[0].Time != 1 || got[1].Time != 2 {
		t.Errorf("unexpected markers %+v", got)
	}

	if _, err := ReadAll(context.Background()); !errors.IsCode(err, errors.CodeInput) {
		t.Errorf("Expected InputError without paths, got %v", err)
	}

	_, err = ReadAll(context.Background(), a, filepath.Join(t.TempDir(), "missing.jsonl"))
	if !errors.IsCode(err, errors.CodeInput) || !strings.Contains(err.Error(), "missing.jsonl") {
		t.Errorf("Expected InputError naming the file, got %v", err)
	}
}
