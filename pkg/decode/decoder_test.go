package decode

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

func TestDecode_Kinds(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    model.Kind
		check   func(t *testing.T, ev model.RawEvent)
	}{
		{
			name:    "trial state",
			payload: `{"TrialState":{"trialIndex":4,"trialPhaseIndex":9,"isCorrect":true,"outcome":"Good trial","taskType":1}}`,
			kind:    model.KindTrialState,
			check: func(t *testing.T, ev model.RawEvent) {
				st := ev.State
				if st.TrialIndex != 4 || st.Phase != 9 || !st.IsCorrect || st.Outcome != "Good trial" {
					t.Errorf("unexpected state %+v", st)
				}
				if st.Fields["taskType"] != 1 {
					t.Errorf("Expected taskType 1 as int, got %#v", st.Fields["taskType"])
				}
			},
		},
		{
			name:    "input",
			payload: `{"Input":{"trialIndex":2,"selectedObjectClass":"Target","info":"Selected: Target_1"}}`,
			kind:    model.KindInput,
			check: func(t *testing.T, ev model.RawEvent) {
				want := &model.Input{
					TrialIndex:          2,
					SelectedObjectClass: "Target",
					Info:                "Selected: Target_1",
					Fields: map[string]any{
						"trialIndex":          2,
						"selectedObjectClass": "Target",
						"info":                "Selected: Target_1",
					},
				}
				if diff := cmp.Diff(want, ev.Input); diff != "" {
					t.Errorf("input mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "object with vector objects",
			payload: `{"ObjectInfo":{"_identity":"CentralFixation","_isVisible":false,"_position":{"x":0,"y":1.5,"z":2},"_pointingTo":{"x":0,"y":0,"z":1}}}`,
			kind:    model.KindObjectInfo,
			check: func(t *testing.T, ev model.RawEvent) {
				want := &model.ObjectInfo{
					Identity:   "CentralFixation",
					Position:   model.Vec3{Y: 1.5, Z: 2},
					PointingTo: model.Vec3{Z: 1},
				}
				if diff := cmp.Diff(want, ev.Object); diff != "" {
					t.Errorf("object mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "object with vector arrays",
			payload: `{"ObjectInfo":{"_identity":"Target","_isVisible":true,"_position":[1,2,3]}}`,
			kind:    model.KindObjectInfo,
			check: func(t *testing.T, ev model.RawEvent) {
				if !ev.Object.Visible || ev.Object.Position != (model.Vec3{X: 1, Y: 2, Z: 3}) {
					t.Errorf("unexpected object %+v", ev.Object)
				}
			},
		},
		{
			name:    "recenter",
			payload: `{"CameraRecenter":true}`,
			kind:    model.KindCameraRecenter,
			check: func(t *testing.T, ev model.RawEvent) {
				if !ev.Recenter.Recentered {
					t.Error("Expected Recentered")
				}
			},
		},
		{
			name:    "misspelled input key",
			payload: `{"Input:":{"trialIndex":1,"selectedObjectClass":"Fixation"}}`,
			kind:    model.KindInput,
			check: func(t *testing.T, ev model.RawEvent) {
				if ev.Input.SelectedObjectClass != "Fixation" {
					t.Errorf("Expected Fixation, got %q", ev.Input.SelectedObjectClass)
				}
			},
		},
		{
			name:    "misspelled recenter key",
			payload: `{"CameraRecenter:":true}`,
			kind:    model.KindCameraRecenter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			ev, err := d.Decode(7, model.Marker{Time: 1.25, Payload: tt.payload})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if ev.Kind != tt.kind {
				t.Fatalf("Expected kind %s, got %s", tt.kind, ev.Kind)
			}
			if ev.Seq != 7 || ev.Time != 1.25 {
				t.Errorf("Expected seq 7 at 1.25, got %d at %v", ev.Seq, ev.Time)
			}
			if err := ev.Validate(); err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `TrialState phase=2`},
		{"two keys", `{"Input":{},"ObjectInfo":{}}`},
		{"no keys", `{}`},
		{"unknown kind", `{"EyeTracker":{"x":1}}`},
		{"missing phase", `{"TrialState":{"trialIndex":1}}`},
		{"fractional phase", `{"TrialState":{"trialIndex":1,"trialPhaseIndex":2.5}}`},
		{"bad isCorrect", `{"TrialState":{"trialIndex":1,"trialPhaseIndex":2,"isCorrect":"yes"}}`},
		{"short vector", `{"ObjectInfo":{"_identity":"Cue","_position":[1,2]}}`},
		{"input not an object", `{"Input":"Fixation"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Decode(3, model.Marker{Payload: tt.payload})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !errors.IsCode(err, errors.CodeDecode) {
				t.Errorf("Expected %s, got %v", errors.CodeDecode, err)
			}
		})
	}
}

func TestDecodeAll_Lenient(t *testing.T) {
	markers := []model.Marker{
		{Time: 0, Payload: `{"TrialState":{"trialIndex":1,"trialPhaseIndex":1}}`},
		{Time: 1, Payload: `{"broken`},
		{Time: 2, Payload: `{"Input:":{"trialIndex":1,"selectedObjectClass":"Fixation"}}`},
		{Time: 3, Payload: `{"Mystery":1}`},
		{Time: 4, Payload: `{"CameraRecenter:":true}`},
	}

	quarantine := errors.NewCollector(0)
	d := New(WithQuarantine(quarantine))
	events, stats, err := d.DecodeAll(context.Background(), markers)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}

	if stats.Total != 5 || stats.Decoded != 3 || stats.Dropped != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	wantFixups := map[string]int{"rename:Input:": 1, "rename:CameraRecenter:": 1}
	if diff := cmp.Diff(wantFixups, stats.Fixups); diff != "" {
		t.Errorf("fixups mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"rename:CameraRecenter:", "rename:Input:"}, stats.FixupNames()); diff != "" {
		t.Errorf("fixup names mismatch (-want +got):\n%s", diff)
	}

	var seqs []int
	for _, ev := range events {
		seqs = append(seqs, ev.Seq)
	}
	if diff := cmp.Diff([]int{0, 2, 4}, seqs); diff != "" {
		t.Errorf("surviving markers mismatch (-want +got):\n%s", diff)
	}

	recs := quarantine.Records()
	if len(recs) != 2 {
		t.Fatalf("Expected 2 quarantined markers, got %d", len(recs))
	}
	if recs[0].Seq != 1 || recs[0].Payload != `{"broken` || recs[0].Code != errors.CodeDecode {
		t.Errorf("unexpected record %+v", recs[0])
	}
	if recs[1].Seq != 3 || recs[1].Time != 3 {
		t.Errorf("unexpected record %+v", recs[1])
	}
}

func TestDecodeAll_Strict(t *testing.T) {
	markers := []model.Marker{
		{Payload: `{"CameraRecenter":false}`},
		{Payload: `not json`},
		{Payload: `{"CameraRecenter":true}`},
	}

	_, _, err := New(WithStrict(true)).DecodeAll(context.Background(), markers)
	if !errors.IsCode(err, errors.CodeDecode) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Context["marker"] != 1 {
		t.Errorf("Expected marker 1 in error context, got %v", err)
	}
}

func TestDecodeAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New().DecodeAll(ctx, []model.Marker{{Payload: `{"CameraRecenter":true}`}})
	if !errors.IsCode(err, errors.CodeContextCanceled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
}

func TestRenameKey_NoClobber(t *testing.T) {
	d := New()
	ev, err := d.Decode(0, model.Marker{Payload: `{"Input":{"selectedObjectClass":"Target"},"Input:":{"selectedObjectClass":"Wall"}}`})
	if err == nil {
		t.Fatalf("Expected an error for two keys, got %+v", ev)
	}
}

func TestDecodeAll_FixupsCountDecodedMarkersOnly(t *testing.T) {
	markers := []model.Marker{
		{Time: 0, Payload: `{"Input:":{"trialIndex":1,"selectedObjectClass":"Target"}}`},
		{Time: 1, Payload: `{"Input:":{"trialIndex":1},"ObjectInfo":{"_identity":"Cue"}}`},
		{Time: 2, Payload: `{"CameraRecenter:":true,"Mystery":1}`},
	}

	d := New()
	for run := 1; run <= 2; run++ {
		_, stats, err := d.DecodeAll(context.Background(), markers)
		if err != nil {
			t.Fatalf("run %d: DecodeAll failed: %v", run, err)
		}
		if stats.Dropped != 2 {
			t.Errorf("run %d: Expected 2 dropped markers, got %d", run, stats.Dropped)
		}
		want := map[string]int{"rename:Input:": 1}
		if diff := cmp.Diff(want, stats.Fixups); diff != "" {
			t.Errorf("run %d: fixups mismatch (-want +got):\n%s", run, diff)
		}
	}
}
