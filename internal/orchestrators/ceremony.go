package orchestrators

import (
	"time"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/prompts"
	"github.com/flare576/ei/internal/state"
)

// StartCeremony begins a persona's daily ceremony (spec §4.7 GLOSSARY
// "Ceremony"): the Exposure phase. Static personas never ceremony (spec
// §3.2 "is_dynamic: false = skip ceremonies"); callers must check
// persona.IsDynamic before calling. Returns nil when the persona has no
// topics to expose against, in which case the caller should proceed
// straight to RunDecayExpireExplore.
func StartCeremony(persona eitypes.PersonaEntity, recentMessages []prompts.HistoryLine) *eitypes.QueueItem {
	if len(persona.Topics) == 0 {
		return nil
	}
	view := prompts.PersonaView{Name: persona.Name, ShortDescription: persona.ShortDescription, LongDescription: persona.LongDescription, Traits: persona.Traits}
	prompt := prompts.BuildCeremonyExposurePrompt(view, persona.Topics, recentMessages)
	return &eitypes.QueueItem{
		Type:     eitypes.RequestJSON,
		Priority: eitypes.PriorityLow,
		NextStep: eitypes.StepPersonaExposure,
		System:   prompt.System,
		User:     prompt.User,
		Data:     map[string]any{"persona_id": persona.ID},
	}
}

// ExposureUpdate is one parsed entry of the Exposure phase's response.
type ExposureUpdate struct {
	TopicID        string
	ExposureImpact string
}

// ApplyExposureUpdates sets ExposureCurrent for every matched topic from the
// Exposure phase's response (replacing, not composing, per spec §4.8) and
// stamps each touched topic's LastUpdated. Returns the updated persona; it
// runs no Decay/Expire/Explore step and builds no follow-up queue items
// (RunDecayExpireExplore and BuildDescriptionCheckItem do that).
func ApplyExposureUpdates(persona eitypes.PersonaEntity, updates []ExposureUpdate, now time.Time) eitypes.PersonaEntity {
	touched := make(map[string]bool, len(updates))
	for _, u := range updates {
		if val, ok := ExposureFromLabel(u.ExposureImpact); ok {
			for i := range persona.Topics {
				if persona.Topics[i].ID == u.TopicID {
					persona.Topics[i].ExposureCurrent = val
					persona.Topics[i].LastUpdated = now
					touched[u.TopicID] = true
				}
			}
		}
	}
	return persona
}

// RunDecayExpireExplore runs the Decay and Expire phases (pure computation)
// and, if the resulting topic count is low, returns an Explore queue item.
// Topics touched this ceremony round (present in touchedIDs) are exempt
// from decay, matching the teacher's "don't decay what was just refreshed"
// texture (spec §4.7: Decay/Expire only act on what Exposure didn't touch).
func RunDecayExpireExplore(persona eitypes.PersonaEntity, touchedIDs map[string]bool, now time.Time) (eitypes.PersonaEntity, *eitypes.QueueItem) {
	var kept []eitypes.PersonaTopic
	for _, topic := range persona.Topics {
		if !touchedIDs[topic.ID] {
			hours := HoursSince(topic.LastUpdated, now)
			topic.ExposureCurrent = Decay(topic.ExposureCurrent, DefaultDecayK, hours)
		}
		if topic.ExposureCurrent < DefaultExpireThreshold && topic.ExposureDesired < DefaultExposureDesiredFloor {
			continue // Expire phase drops it
		}
		kept = append(kept, topic)
	}
	persona.Topics = kept

	if len(persona.Topics) >= LowTopicThreshold {
		return persona, nil
	}

	view := prompts.PersonaView{Name: persona.Name, Traits: persona.Traits, Topics: persona.Topics}
	prompt := prompts.BuildPersonaExplorePrompt(view, nil)
	return persona, &eitypes.QueueItem{
		Type:     eitypes.RequestJSON,
		Priority: eitypes.PriorityLow,
		NextStep: eitypes.StepPersonaExplore,
		System:   prompt.System,
		User:     prompt.User,
		Data:     map[string]any{"persona_id": persona.ID},
	}
}

// BuildDescriptionCheckItem builds the ceremony's final phase: a
// conservative "should we regenerate this persona's descriptions?" check
// (spec §4.7 "Description regeneration runs last").
func BuildDescriptionCheckItem(persona eitypes.PersonaEntity, recentSummary string) eitypes.QueueItem {
	view := prompts.PersonaView{Name: persona.Name, ShortDescription: persona.ShortDescription, LongDescription: persona.LongDescription, Traits: persona.Traits, Topics: persona.Topics}
	prompt := prompts.BuildDescriptionCheckPrompt(view, recentSummary)
	return eitypes.QueueItem{
		Type:     eitypes.RequestJSON,
		Priority: eitypes.PriorityLow,
		NextStep: eitypes.StepPersonaDescribe,
		System:   prompt.System,
		User:     prompt.User,
		Data:     map[string]any{"persona_id": persona.ID, "recent_summary": recentSummary},
	}
}

// BuildDescriptionApplyItem builds the follow-up regeneration request once
// the conservative check above returned should_update=true.
func BuildDescriptionApplyItem(persona eitypes.PersonaEntity, recentSummary string) eitypes.QueueItem {
	view := prompts.PersonaView{Name: persona.Name, ShortDescription: persona.ShortDescription, LongDescription: persona.LongDescription, Traits: persona.Traits}
	prompt := prompts.BuildPersonaDescriptionRegeneratePrompt(view, recentSummary)
	return eitypes.QueueItem{
		Type:     eitypes.RequestJSON,
		Priority: eitypes.PriorityLow,
		NextStep: eitypes.StepPersonaDescribeApply,
		System:   prompt.System,
		User:     prompt.User,
		Data:     map[string]any{"persona_id": persona.ID},
	}
}

// AppendExploredTopics adds newly explored topics to a persona with modest
// exposure_desired and low exposure_current (spec §4.7 Explore phase).
func AppendExploredTopics(persona eitypes.PersonaEntity, names, descriptions []string, now time.Time) eitypes.PersonaEntity {
	for i, name := range names {
		desc := ""
		if i < len(descriptions) {
			desc = descriptions[i]
		}
		persona.Topics = append(persona.Topics, eitypes.PersonaTopic{
			DataItemBase: eitypes.DataItemBase{
				Name:        name,
				Description: desc,
			},
			ExposureDesired: ExplorePhaseInitialDesired,
			ExposureCurrent: ExplorePhaseInitialCurrent,
			LastUpdated:     now,
		})
	}
	return persona
}

// DecayHumanEngagement applies the hourly system-wide decay tick to the
// human's topics and people (spec §4.7 "Human topics/people decay on the
// system-wide hourly tick, not in the per-persona ceremony").
func DecayHumanEngagement(st *state.Manager, now time.Time) {
	human := st.GetHuman()
	for i := range human.Topics {
		hours := HoursSince(human.Topics[i].LastUpdated, now)
		human.Topics[i].LevelCurrent = Decay(human.Topics[i].LevelCurrent, DefaultDecayK, hours)
	}
	for i := range human.People {
		hours := HoursSince(human.People[i].LastUpdated, now)
		human.People[i].LevelCurrent = Decay(human.People[i].LevelCurrent, DefaultDecayK, hours)
	}
	st.SetHuman(human)
}
