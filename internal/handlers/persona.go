package handlers

import (
	"context"
	"time"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/orchestrators"
	"github.com/flare576/ei/internal/queueproc"
)

// HandlePersonaGeneration applies the result of fleshing out a newly
// created persona's traits/topics/descriptions (spec §4.5, §4.6).
func HandlePersonaGeneration(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	personaID := dataString(item.Data, "persona_id")
	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}

	raw := outcome.JSON
	persona.ShortDescription, _ = raw["short_description"].(string)
	persona.LongDescription, _ = raw["long_description"].(string)
	persona.Traits = parseTraits(raw["traits"])
	persona.Topics = parsePersonaTopics(raw["topics"], hc.now())

	saved, err := hc.State.PersonaUpdate(*persona)
	if err != nil {
		return nil, err
	}
	hc.Events.EmitPersonaUpdated(saved)
	return nil, nil
}

func parseTraits(v any) []eitypes.Trait {
	list, _ := v.([]any)
	out := make([]eitypes.Trait, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		out = append(out, eitypes.Trait{DataItemBase: eitypes.DataItemBase{Name: name, Description: desc}})
	}
	return out
}

func parsePersonaTopics(v any, now time.Time) []eitypes.PersonaTopic {
	list, _ := v.([]any)
	out := make([]eitypes.PersonaTopic, 0, len(list))
	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		perspective, _ := m["perspective"].(string)
		approach, _ := m["approach"].(string)
		stake, _ := m["personal_stake"].(string)
		out = append(out, eitypes.PersonaTopic{
			DataItemBase:    eitypes.DataItemBase{Name: name, Description: desc},
			Perspective:     perspective,
			Approach:        approach,
			PersonalStake:   stake,
			ExposureDesired: orchestrators.ExplorePhaseInitialDesired,
			ExposureCurrent: orchestrators.ExplorePhaseInitialCurrent,
			LastUpdated:     now,
		})
	}
	return out
}

// HandlePersonaExposure applies the ceremony's Exposure phase: sets each
// touched topic's ExposureCurrent, then runs Decay/Expire purely and
// queues Explore (if the topic count is now low) and a Describe check
// (always last), per spec §4.7.
func HandlePersonaExposure(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}

	personaID := dataString(item.Data, "persona_id")
	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}
	now := hc.now()

	var updates []orchestrators.ExposureUpdate
	touched := map[string]bool{}
	if outcome.Err == nil {
		rawUpdates, _ := outcome.JSON["updates"].([]any)
		for _, raw := range rawUpdates {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			topicID, _ := m["topic_id"].(string)
			impact, _ := m["exposure_impact"].(string)
			if topicID == "" {
				continue
			}
			updates = append(updates, orchestrators.ExposureUpdate{TopicID: topicID, ExposureImpact: impact})
			touched[topicID] = true
		}
	}

	updated := orchestrators.ApplyExposureUpdates(*persona, updates, now)
	updated, exploreItem := orchestrators.RunDecayExpireExplore(updated, touched, now)

	saved, err := hc.State.PersonaUpdate(updated)
	if err != nil {
		return nil, err
	}
	hc.Events.EmitPersonaUpdated(saved)
	hc.State.MarkCeremonyRan(personaID, now.Format("2006-01-02"))

	describeItem := orchestrators.BuildDescriptionCheckItem(saved, "")

	var follow []eitypes.QueueItem
	if exploreItem != nil {
		follow = append(follow, *exploreItem)
	}
	follow = append(follow, describeItem)
	return follow, nil
}

// HandlePersonaExplore applies the ceremony's Explore phase: appends any
// newly suggested topics and queues nothing further. The Describe check is
// queued by HandlePersonaExposure alongside this Explore item, so it does
// not wait for the topics appended here.
func HandlePersonaExplore(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	personaID := dataString(item.Data, "persona_id")
	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}

	rawTopics, _ := outcome.JSON["topics"].([]any)
	var names, descriptions []string
	for _, raw := range rawTopics {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := m["description"].(string)
		names = append(names, name)
		descriptions = append(descriptions, desc)
	}

	updated := orchestrators.AppendExploredTopics(*persona, names, descriptions, hc.now())
	saved, err := hc.State.PersonaUpdate(updated)
	if err != nil {
		return nil, err
	}
	hc.Events.EmitPersonaUpdated(saved)

	return nil, nil
}

// HandlePersonaDescribeCheck applies the ceremony's conservative "should we
// regenerate this persona's descriptions?" gate; only on an affirmative
// does it queue the actual regeneration (spec §4.7, §9 "default is no").
func HandlePersonaDescribeCheck(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, nil // conservative default: no regeneration on failure
	}

	shouldUpdate, _ := outcome.JSON["should_update"].(bool)
	if !shouldUpdate {
		return nil, nil
	}

	personaID := dataString(item.Data, "persona_id")
	recentSummary := dataString(item.Data, "recent_summary")
	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}

	applyItem := orchestrators.BuildDescriptionApplyItem(*persona, recentSummary)
	return []eitypes.QueueItem{applyItem}, nil
}

// HandlePersonaDescribeApply applies regenerated short/long descriptions
// (spec §4.7).
func HandlePersonaDescribeApply(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	personaID := dataString(item.Data, "persona_id")
	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}

	persona.ShortDescription, _ = outcome.JSON["short_description"].(string)
	persona.LongDescription, _ = outcome.JSON["long_description"].(string)

	saved, err := hc.State.PersonaUpdate(*persona)
	if err != nil {
		return nil, err
	}
	hc.Events.EmitPersonaUpdated(saved)
	return nil, nil
}
