package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/orchestrators"
	"github.com/flare576/ei/internal/prompts"
	"github.com/flare576/ei/internal/queueproc"
)

var zeroTime time.Time

func linesForIDs(messages []eitypes.Message, ids []string) []prompts.HistoryLine {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []prompts.HistoryLine
	for _, msg := range messages {
		if want[msg.ID] {
			out = append(out, prompts.HistoryLine{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return out
}

// HandleHumanScan applies Step 1 (blind scan) of the three-step human-data
// extraction pipeline (spec §4.6, §4.7): candidates are routed to Step 2
// (match) when confident, or parked as a low-confidence validation for the
// next daily ceremony.
func HandleHumanScan(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	bucket := eitypes.DataBucket(dataString(item.Data, "bucket"))
	personaID := dataString(item.Data, "persona_id")
	personaName := dataString(item.Data, "persona_name")
	messageIDs := dataStrings(item.Data, "message_ids")

	newItems, _ := outcome.JSON["new_items"].([]any)
	knownNames := lowerSet(orchestrators.KnownPersonaNames(hc.State))

	var follow []eitypes.QueueItem
	for _, raw := range newItems {
		candidate, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := candidate["name"].(string)
		if name == "" {
			continue
		}
		if bucket == eitypes.BucketPerson && knownNames[strings.ToLower(name)] {
			continue // spec §4.6: filter known-persona-name collisions
		}
		description, _ := candidate["description"].(string)
		confidence := strings.ToLower(fmt.Sprint(candidate["confidence"]))

		if confidence == "low" {
			hc.State.ValidationEnqueue(eitypes.Validation{
				Kind:      eitypes.ValidationLowConfidence,
				PersonaID: personaID,
				Bucket:    bucket,
				Candidate: candidate,
				Summary:   fmt.Sprintf("low-confidence %s: %s", bucket, name),
			})
			continue
		}

		existing := visibleBucketItems(hc, personaID, bucket)
		prompt := prompts.BuildItemMatchPrompt(prompts.ItemMatchInput{
			Bucket:        bucket,
			CandidateName: name,
			Description:   description,
			Existing:      existing,
		})
		follow = append(follow, eitypes.QueueItem{
			Type:     eitypes.RequestJSON,
			Priority: eitypes.PriorityLow,
			NextStep: eitypes.StepItemMatch,
			System:   prompt.System,
			User:     prompt.User,
			Data: map[string]any{
				"bucket":               string(bucket),
				"persona_id":           personaID,
				"persona_name":         personaName,
				"candidate_name":       name,
				"candidate_description": description,
				"message_ids":          messageIDs,
			},
		})
	}
	return follow, nil
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(s)] = true
	}
	return out
}

func visibleBucketItems(hc *Context, personaID string, bucket eitypes.DataBucket) []eitypes.DataItemBase {
	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil
	}
	human := hc.State.GetHuman()
	var out []eitypes.DataItemBase
	switch bucket {
	case eitypes.BucketFact:
		for _, f := range human.Facts {
			if persona.CanRead(f.PersonaGroups) {
				out = append(out, f.DataItemBase)
			}
		}
	case eitypes.BucketTrait:
		for _, t := range human.Traits {
			if persona.CanRead(t.PersonaGroups) {
				out = append(out, t.DataItemBase)
			}
		}
	case eitypes.BucketTopic:
		for _, t := range human.Topics {
			if persona.CanRead(t.PersonaGroups) {
				out = append(out, t.DataItemBase)
			}
		}
	case eitypes.BucketPerson:
		for _, p := range human.People {
			if persona.CanRead(p.PersonaGroups) {
				out = append(out, p.DataItemBase)
			}
		}
	}
	return out
}

// HandleItemMatch applies Step 2: route the candidate to Step 3 against
// whatever match (or lack of one) the LLM found (spec §4.6).
func HandleItemMatch(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	bucket := eitypes.DataBucket(dataString(item.Data, "bucket"))
	personaID := dataString(item.Data, "persona_id")
	personaName := dataString(item.Data, "persona_name")
	candidateName := dataString(item.Data, "candidate_name")
	candidateDescription := dataString(item.Data, "candidate_description")
	messageIDs := dataStrings(item.Data, "message_ids")

	matchID, _ := outcome.JSON["match_id"].(string)

	var existing *eitypes.DataItemBase
	if matchID != "" {
		for _, it := range visibleBucketItems(hc, personaID, bucket) {
			if it.ID == matchID {
				found := it
				existing = &found
				break
			}
		}
	}

	messages := hc.State.MessagesGet(personaName, zeroTime)
	lines := linesForIDs(messages, messageIDs)

	prompt := prompts.BuildItemUpdatePrompt(prompts.ItemUpdateInput{
		Bucket:   bucket,
		Existing: existing,
		Messages: lines,
	})

	return []eitypes.QueueItem{{
		Type:     eitypes.RequestJSON,
		Priority: eitypes.PriorityLow,
		NextStep: eitypes.StepItemUpdate,
		System:   prompt.System,
		User:     prompt.User,
		Data: map[string]any{
			"bucket":          string(bucket),
			"persona_id":      personaID,
			"persona_name":    personaName,
			"match_id":        matchID,
			"candidate_name":  candidateName,
			"candidate_description": candidateDescription,
			"message_ids":     messageIDs,
		},
	}}, nil
}

// HandleItemUpdate applies Step 3: persist the matched/created item, mark
// the analyzed messages extracted, and lift out any memorable quotes (spec
// §4.6, §4.7). A non-Ei persona writing into the shared General group
// raises a cross-persona validation for the next daily ceremony (spec
// §3.3).
func HandleItemUpdate(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	bucket := eitypes.DataBucket(dataString(item.Data, "bucket"))
	personaID := dataString(item.Data, "persona_id")
	personaName := dataString(item.Data, "persona_name")
	matchID := dataString(item.Data, "match_id")
	messageIDs := dataStrings(item.Data, "message_ids")

	persona, err := hc.State.PersonaGet(personaID)
	if err != nil {
		return nil, err
	}

	raw := outcome.JSON
	name, _ := raw["name"].(string)
	description, _ := raw["description"].(string)
	sentiment, _ := raw["sentiment"].(float64)

	base := eitypes.DataItemBase{
		ID:            matchID,
		Name:          name,
		Description:   description,
		Sentiment:     sentiment,
		PersonaGroups: []string{persona.GroupPrimary},
	}
	if base.ID == "" {
		base.LearnedBy = personaName
	}

	exposureHint, hasExposure := raw["exposure_impact"].(string)
	var exposureVal float64
	if hasExposure {
		exposureVal, hasExposure = orchestrators.ExposureFromLabel(exposureHint)
	}

	var savedID string
	switch bucket {
	case eitypes.BucketFact:
		confidence, _ := raw["confidence"].(float64)
		saved := hc.State.HumanFactUpsert(eitypes.Fact{DataItemBase: base, Confidence: confidence}, persona.GroupPrimary)
		savedID = saved.ID
	case eitypes.BucketTrait:
		trait := eitypes.Trait{DataItemBase: base}
		if strength, ok := raw["strength"].(float64); ok {
			trait.Strength = &strength
		}
		saved := hc.State.HumanTraitUpsert(trait, persona.GroupPrimary)
		savedID = saved.ID
	case eitypes.BucketTopic:
		topic := eitypes.Topic{DataItemBase: base, LevelIdeal: floatOr(raw["level_ideal"], 0.5)}
		if hasExposure {
			topic.LevelCurrent = exposureVal
		} else {
			topic.LevelCurrent = floatOr(raw["level_current"], 0.3)
		}
		saved := hc.State.HumanTopicUpsert(topic, persona.GroupPrimary)
		savedID = saved.ID
	case eitypes.BucketPerson:
		relationship, _ := raw["relationship"].(string)
		person := eitypes.Person{DataItemBase: base, LevelIdeal: floatOr(raw["level_ideal"], 0.5), Relationship: relationship}
		if hasExposure {
			person.LevelCurrent = exposureVal
		} else {
			person.LevelCurrent = floatOr(raw["level_current"], 0.3)
		}
		saved := hc.State.HumanPersonUpsert(person, persona.GroupPrimary)
		savedID = saved.ID
	default:
		return nil, nil
	}

	hc.State.MessagesMarkExtracted(personaName, messageIDs, bucket)
	hc.State.ExtractionTotalIncr(personaID, bucket)

	if isGlobalGroup(persona.GroupPrimary) && !persona.IsEi() {
		hc.State.ValidationEnqueue(eitypes.Validation{
			Kind:      eitypes.ValidationCrossPersonaWrite,
			PersonaID: personaID,
			Bucket:    bucket,
			ItemID:    savedID,
			Summary:   fmt.Sprintf("%s (%s) added to General by %s", name, bucket, personaName),
		})
	}

	extractQuotes(hc, personaName, savedID, persona.GroupPrimary, messageIDs, raw)

	return nil, nil
}

func isGlobalGroup(group string) bool {
	return group == eitypes.GeneralGroup || group == eitypes.WildcardGroup
}

func floatOr(v any, fallback float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return fallback
}

func extractQuotes(hc *Context, personaName, dataItemID, groupPrimary string, messageIDs []string, raw map[string]any) {
	rawQuotes, _ := raw["quotes"].([]any)
	if len(rawQuotes) == 0 {
		return
	}
	messages := hc.State.MessagesGet(personaName, zeroTime)
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	existing := hc.State.GetHuman().Quotes

	for _, rq := range rawQuotes {
		q, ok := rq.(map[string]any)
		if !ok {
			continue
		}
		text, _ := q["text"].(string)
		if text == "" {
			continue
		}
		for _, msg := range messages {
			if !want[msg.ID] {
				continue
			}
			idx := strings.Index(msg.Content, text)
			if idx < 0 {
				continue
			}
			start, end := idx, idx+len(text)
			if quoteExists(existing, msg.ID, start, end) {
				continue
			}
			hc.State.HumanQuoteUpsert(eitypes.Quote{
				MessageID:   msg.ID,
				DataItemIDs: []string{dataItemID},
				Text:        text,
				Speaker:     string(eitypes.SpeakerHuman),
				Timestamp:   msg.Timestamp,
				Start:       &start,
				End:         &end,
				CreatedBy:   eitypes.QuoteCreatedExtraction,
			}, groupPrimary)
			break
		}
	}
}

func quoteExists(quotes []eitypes.Quote, messageID string, start, end int) bool {
	for _, q := range quotes {
		if q.MessageID == messageID && q.Start != nil && q.End != nil && *q.Start == start && *q.End == end {
			return true
		}
	}
	return false
}
