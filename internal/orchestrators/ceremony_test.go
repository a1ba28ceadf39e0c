package orchestrators

import (
	"testing"
	"time"

	"github.com/flare576/ei/internal/eitypes"
)

func topicWith(id string, current, desired float64, lastUpdated time.Time) eitypes.PersonaTopic {
	return eitypes.PersonaTopic{
		DataItemBase:    eitypes.DataItemBase{ID: id},
		ExposureCurrent: current,
		ExposureDesired: desired,
		LastUpdated:     lastUpdated,
	}
}

// A topic whose exposure has decayed below the expire floor AND whose
// desired level is also below the floor is dropped; a topic with the same
// decayed exposure but a healthy desired level survives (spec §4.7 Expire
// phase).
func TestRunDecayExpireExploreDropsExpiredTopics(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-1000 * time.Hour)
	persona := eitypes.PersonaEntity{
		ID: "p1",
		Topics: []eitypes.PersonaTopic{
			topicWith("drop-low-desired", 0.01, 0.01, stale),
			topicWith("keep-high-desired", 0.01, 0.5, stale),
			topicWith("keep-recent", 0.9, 0.9, now),
			topicWith("keep-recent-2", 0.9, 0.9, now),
		},
	}

	updated, explore := RunDecayExpireExplore(persona, map[string]bool{}, now)

	ids := map[string]bool{}
	for _, topic := range updated.Topics {
		ids[topic.ID] = true
	}
	if ids["drop-low-desired"] {
		t.Fatal("want topic with decayed exposure and low desired level expired out")
	}
	if !ids["keep-high-desired"] {
		t.Fatal("want topic with decayed exposure but healthy desired level kept")
	}
	if explore != nil {
		t.Fatalf("3 surviving topics meets the low-topic threshold, want no explore item, got %+v", explore)
	}
}

// When decay/expire leaves fewer topics than the low-topic threshold, an
// Explore follow-up item is queued (spec §4.7 Explore phase).
func TestRunDecayExpireExploreQueuesExploreWhenLow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	persona := eitypes.PersonaEntity{
		ID:     "p1",
		Name:   "Rae",
		Topics: []eitypes.PersonaTopic{topicWith("only-one", 0.5, 0.5, now)},
	}

	updated, explore := RunDecayExpireExplore(persona, map[string]bool{}, now)

	if len(updated.Topics) >= LowTopicThreshold {
		t.Fatalf("want topic count below threshold, got %d", len(updated.Topics))
	}
	if explore == nil {
		t.Fatal("want an Explore follow-up item when topic count is low")
	}
	if explore.NextStep != eitypes.StepPersonaExplore {
		t.Fatalf("want StepPersonaExplore, got %v", explore.NextStep)
	}
}

// Topics touched this ceremony round are exempt from decay.
func TestRunDecayExpireExploreExemptsTouchedTopics(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-1000 * time.Hour)
	persona := eitypes.PersonaEntity{
		ID: "p1",
		Topics: []eitypes.PersonaTopic{
			topicWith("touched", 0.8, 0.5, stale),
			topicWith("untouched-1", 0.8, 0.5, now),
			topicWith("untouched-2", 0.8, 0.5, now),
		},
	}

	updated, _ := RunDecayExpireExplore(persona, map[string]bool{"touched": true}, now)

	var touchedAfter eitypes.PersonaTopic
	found := false
	for _, topic := range updated.Topics {
		if topic.ID == "touched" {
			touchedAfter = topic
			found = true
		}
	}
	if !found {
		t.Fatal("touched topic should survive regardless of staleness")
	}
	if touchedAfter.ExposureCurrent != 0.8 {
		t.Fatalf("touched topic should not decay, want 0.8, got %v", touchedAfter.ExposureCurrent)
	}
}

func TestApplyExposureUpdatesReplacesNotComposes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	persona := eitypes.PersonaEntity{
		Topics: []eitypes.PersonaTopic{topicWith("t1", 0.1, 0.5, now.Add(-time.Hour))},
	}

	updated := ApplyExposureUpdates(persona, []ExposureUpdate{{TopicID: "t1", ExposureImpact: "high"}}, now)

	if updated.Topics[0].ExposureCurrent != 0.8 {
		t.Fatalf("want exposure replaced to 0.8 (high), got %v", updated.Topics[0].ExposureCurrent)
	}
	if !updated.Topics[0].LastUpdated.Equal(now) {
		t.Fatalf("want LastUpdated bumped to now, got %v", updated.Topics[0].LastUpdated)
	}
}
