package orchestrators

import (
	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/prompts"
	"github.com/flare576/ei/internal/state"
)

// ShouldExtract implements the frequency gate of spec §4.9: facts and
// traits only qualify once enough unextracted messages have piled up
// (max(10, total-extractions-so-far)); topics and people qualify on every
// message pair.
func ShouldExtract(bucket eitypes.DataBucket, unextractedCount, totalExtractions int) bool {
	if unextractedCount == 0 {
		return false
	}
	switch bucket {
	case eitypes.BucketTopic, eitypes.BucketPerson:
		return true
	default:
		threshold := totalExtractions
		if threshold < 10 {
			threshold = 10
		}
		return unextractedCount >= threshold
	}
}

// KnownPersonaNames lists every persona's name and aliases, used by Step 1's
// scan prompt so the LLM does not propose a persona as a Person (spec §4.5,
// §4.6).
func KnownPersonaNames(st *state.Manager) []string {
	var names []string
	for _, p := range st.PersonaList() {
		names = append(names, p.Name)
		names = append(names, p.Aliases...)
	}
	return names
}

// MaybeStartExtraction checks the frequency gate for every data bucket and
// returns the Step 1 (blind scan) queue items that should be enqueued for
// a persona whose message-pair just closed (spec §4.7 "Triggered on
// message-pair closure... subject to the frequency gate").
func MaybeStartExtraction(st *state.Manager, personaID, personaName string) []eitypes.QueueItem {
	var out []eitypes.QueueItem
	knownNames := KnownPersonaNames(st)

	for _, bucket := range eitypes.AllBuckets {
		unextracted := st.MessagesGetUnextracted(personaName, bucket, 0)
		if len(unextracted) == 0 {
			continue
		}
		total := st.ExtractionTotal(personaID, bucket)
		if !ShouldExtract(bucket, len(unextracted), total) {
			continue
		}

		lines := make([]prompts.HistoryLine, 0, len(unextracted))
		ids := make([]string, 0, len(unextracted))
		for _, msg := range unextracted {
			lines = append(lines, prompts.HistoryLine{Role: string(msg.Role), Content: msg.Content})
			ids = append(ids, msg.ID)
		}

		prompt := prompts.BuildFastScanPrompt(prompts.FastScanInput{
			Bucket:            bucket,
			Messages:          lines,
			KnownPersonaNames: knownNames,
		})

		out = append(out, eitypes.QueueItem{
			Type:     eitypes.RequestJSON,
			Priority: eitypes.PriorityLow,
			NextStep: eitypes.ScanStepForBucket(bucket),
			System:   prompt.System,
			User:     prompt.User,
			Data: map[string]any{
				"persona_id":   personaID,
				"persona_name": personaName,
				"bucket":       string(bucket),
				"message_ids":  ids,
			},
		})
	}
	return out
}
