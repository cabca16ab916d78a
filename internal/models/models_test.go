package models

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestComputeStage(t *testing.T) {
	require.Equal(t, StageCuration, ComputeStage(StageCuration, nil))
	require.Equal(t, StageCuration, ComputeStage(StageCuration, JobMap{}))

	jobs := JobMap{
		uuid.NewString(): {Model: "seals_v2", Active: true},
	}
	require.Equal(t, StageDetection, ComputeStage(StageCuration, jobs))

	for _, job := range jobs {
		job.Active = false
	}
	require.Equal(t, StageUnReviewed, ComputeStage(StageCuration, jobs))

	// stored failed wins regardless of job evidence
	require.Equal(t, StageFailed, ComputeStage(StageFailed, jobs))
}

func TestAddJobOnePerModel(t *testing.T) {
	s := &AssetGroupSighting{ID: uuid.New()}

	first, err := s.AddJob("seals_v2")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first)

	_, err = s.AddJob("seals_v2")
	require.Error(t, err)

	// a different model is fine
	_, err = s.AddJob("turtles_v1")
	require.NoError(t, err)
	require.Len(t, s.Jobs, 2)
}

func TestResolveJobIdempotent(t *testing.T) {
	s := &AssetGroupSighting{ID: uuid.New()}
	id, err := s.AddJob("seals_v2")
	require.NoError(t, err)

	result := json.RawMessage(`{"annotations":[{"class":"seal","score":0.91}]}`)
	require.True(t, s.ResolveJob(id, result, ""))

	snapshot, err := json.Marshal(s.Jobs)
	require.NoError(t, err)

	// duplicate delivery must not change anything
	require.False(t, s.ResolveJob(id, json.RawMessage(`{"other":true}`), "late"))

	again, err := json.Marshal(s.Jobs)
	require.NoError(t, err)
	require.JSONEq(t, string(snapshot), string(again))

	// unknown job guid is a no-op
	require.False(t, s.ResolveJob(uuid.New(), result, ""))
}

func TestResolveOrderIndependence(t *testing.T) {
	build := func() (*AssetGroupSighting, []uuid.UUID) {
		s := &AssetGroupSighting{ID: uuid.New()}
		var ids []uuid.UUID
		for _, model := range []string{"seals_v2", "turtles_v1", "whales_v3"} {
			id, err := s.AddJob(model)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return s, ids
	}

	forward, ids := build()
	for _, id := range ids {
		forward.ResolveJob(id, nil, "")
	}

	backward, ids := build()
	for i := len(ids) - 1; i >= 0; i-- {
		backward.ResolveJob(ids[i], nil, "")
	}

	require.Equal(t, StageUnReviewed, forward.CurrentStage())
	require.Equal(t, StageUnReviewed, backward.CurrentStage())
}

func TestJobMapRoundTrip(t *testing.T) {
	s := &AssetGroupSighting{ID: uuid.New()}
	id, err := s.AddJob("seals_v2")
	require.NoError(t, err)
	s.ResolveJob(id, json.RawMessage(`{"ok":true}`), "")

	value, err := s.Jobs.Value()
	require.NoError(t, err)

	var scanned JobMap
	require.NoError(t, scanned.Scan(value))

	if diff := cmp.Diff(s.Jobs, scanned); diff != "" {
		t.Fatalf("jobs changed across serialization:\n%s", diff)
	}

	var empty JobMap
	require.NoError(t, empty.Scan(nil))
	require.NotNil(t, empty)
}

func TestSightingConfigRoundTrip(t *testing.T) {
	s := &AssetGroupSighting{ID: uuid.New()}

	cfg := &SightingConfig{
		StartTime:       "2000-01-01T01:01:01Z",
		LocationID:      "Tiddleywink",
		AssetReferences: []string{"zebra.jpg"},
		Encounters:      []*EncounterConfig{{GUID: uuid.New()}},
	}
	require.NoError(t, s.SetSightingConfig(cfg))

	got, err := s.SightingConfig()
	require.NoError(t, err)
	require.Equal(t, cfg.LocationID, got.LocationID)
	require.Len(t, got.Encounters, 1)
}
