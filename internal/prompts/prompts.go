// Package prompts builds the system/user prompt pairs the queue processor
// sends through internal/llm (spec §4.5). Every builder is a pure function:
// callers assemble the inputs from state before calling in, and nothing
// here reads state directly, the same separation the teacher keeps between
// its provider layer and its prompt-assembly helpers.
package prompts

import (
	"fmt"
	"strings"

	"github.com/flare576/ei/internal/eitypes"
)

// Prompt is the {system, user} pair every builder but the pure-computation
// ones returns.
type Prompt struct {
	System string
	User   string
}

const noMessageInstruction = `If you decide not to respond, reply with exactly: No Message.`

// eiGuidelines and universalGuidelines are the two system-prompt templates
// named in spec §4.5. Ei gets the transparency/system-guide framing;
// every other persona gets the universal one.
const eiGuidelines = `You are Ei, the system-guide persona. Be transparent about being an AI. ` +
	`Prefer pointing the human toward human-to-human connection over becoming a substitute for it. ` +
	`You may reference other personas and the system itself.`

const universalGuidelines = `Stay in character as the persona described below. ` +
	`Respond the way this persona would, given their traits, topics, and the conversation so far.`

// PersonaView is the slice of persona state a response prompt needs.
type PersonaView struct {
	Name             string
	IsEi             bool
	ShortDescription string
	LongDescription  string
	Traits           []eitypes.Trait
	Topics           []eitypes.PersonaTopic
	StructuredReply  bool // persona has the "structured response" trait
	DelayHintMs      int64
}

// VisibleHumanData is the human data a persona is allowed to read, already
// filtered by group visibility (spec §3.3) before reaching this package.
type VisibleHumanData struct {
	Facts  []eitypes.Fact
	People []eitypes.Person
	Quotes []eitypes.Quote
}

// HistoryLine is one rendered turn of conversation history, already filtered
// by ContextStatus and the context window (spec §4.5, §9 decision #2).
type HistoryLine struct {
	Role    string
	Content string
}

// ResponseInput assembles everything buildResponsePrompt needs.
type ResponseInput struct {
	Persona PersonaView
	Human   VisibleHumanData
	History []HistoryLine
}

// BuildResponsePrompt renders the persona's system prompt plus the
// conversation-so-far user turn (spec §4.5).
func BuildResponsePrompt(in ResponseInput) Prompt {
	var sys strings.Builder
	if in.Persona.IsEi {
		sys.WriteString(eiGuidelines)
	} else {
		sys.WriteString(universalGuidelines)
	}
	sys.WriteString("\n\n")
	fmt.Fprintf(&sys, "You are %s.\n", in.Persona.Name)
	if in.Persona.ShortDescription != "" {
		fmt.Fprintf(&sys, "%s\n", in.Persona.ShortDescription)
	}
	if in.Persona.LongDescription != "" {
		fmt.Fprintf(&sys, "%s\n", in.Persona.LongDescription)
	}
	if len(in.Persona.Traits) > 0 {
		sys.WriteString("\nTraits:\n")
		for _, t := range in.Persona.Traits {
			fmt.Fprintf(&sys, "- %s: %s\n", t.Name, t.Description)
		}
	}
	if len(in.Persona.Topics) > 0 {
		sys.WriteString("\nTopics you care about:\n")
		for _, topic := range in.Persona.Topics {
			fmt.Fprintf(&sys, "- %s (exposure %.2f): %s\n", topic.Name, topic.ExposureCurrent, topic.Description)
		}
	}
	if len(in.Human.Facts) > 0 {
		sys.WriteString("\nKnown facts about the human:\n")
		for _, f := range in.Human.Facts {
			fmt.Fprintf(&sys, "- %s\n", f.Description)
		}
	}
	if len(in.Human.People) > 0 {
		sys.WriteString("\nPeople in the human's life:\n")
		for _, p := range in.Human.People {
			fmt.Fprintf(&sys, "- %s: %s\n", p.Name, p.Relationship)
		}
	}
	if len(in.Human.Quotes) > 0 {
		sys.WriteString("\nMemorable quotes:\n")
		for _, q := range in.Human.Quotes {
			fmt.Fprintf(&sys, "- %q\n", q.Text)
		}
	}
	if in.Persona.StructuredReply {
		sys.WriteString("\nRespond with a JSON object: {\"should_respond\": bool, \"verbal_response\"?: string, \"action_response\"?: string, \"reason\"?: string}.\n")
	}
	sys.WriteString("\n" + noMessageInstruction)

	var user strings.Builder
	for _, line := range in.History {
		fmt.Fprintf(&user, "%s: %s\n", line.Role, line.Content)
	}

	return Prompt{System: sys.String(), User: user.String()}
}

// HeartbeatInput assembles a persona heartbeat-check prompt.
type HeartbeatInput struct {
	Persona PersonaView
	History []HistoryLine
	IdleFor string // human-readable idle duration, e.g. "2h14m"
}

// BuildHeartbeatCheckPrompt asks a non-Ei persona whether to reach out
// unprompted (spec §4.5, §4.10).
func BuildHeartbeatCheckPrompt(in HeartbeatInput) Prompt {
	var sys strings.Builder
	sys.WriteString(universalGuidelines)
	fmt.Fprintf(&sys, "\n\nYou are %s. The human has been idle for %s. ", in.Persona.Name, in.IdleFor)
	sys.WriteString("Decide whether you would naturally reach out right now given your topics and traits. ")
	sys.WriteString(noMessageInstruction)

	var user strings.Builder
	for _, line := range in.History {
		fmt.Fprintf(&user, "%s: %s\n", line.Role, line.Content)
	}
	return Prompt{System: sys.String(), User: user.String()}
}

// EiHeartbeatInput additionally carries other personas' idle state, since
// Ei's heartbeat also considers the household of personas as a whole.
type EiHeartbeatInput struct {
	HeartbeatInput
	InactivePersonas []string
}

// BuildEiHeartbeatPrompt is Ei's variant of the heartbeat check, which also
// weighs whether another persona has gone quiet (spec §4.5).
func BuildEiHeartbeatPrompt(in EiHeartbeatInput) Prompt {
	base := BuildHeartbeatCheckPrompt(in.HeartbeatInput)
	if len(in.InactivePersonas) == 0 {
		return base
	}
	base.System += fmt.Sprintf("\n\nThe following personas have been quiet a long time: %s. "+
		"Consider whether to mention one of them.", strings.Join(in.InactivePersonas, ", "))
	return base
}

// bucketLabel and bucketSchemaHint describe each extractable data bucket for
// the three-step extraction prompts (spec §4.7).
func bucketLabel(bucket eitypes.DataBucket) string {
	switch bucket {
	case eitypes.BucketFact:
		return "biographical facts"
	case eitypes.BucketTrait:
		return "behavioral traits or patterns"
	case eitypes.BucketTopic:
		return "subjects the human likes to discuss"
	case eitypes.BucketPerson:
		return "people in the human's life (not AI personas)"
	default:
		return string(bucket)
	}
}

// FastScanInput assembles Step 1 (blind scan) of the three-step extraction
// pipeline (spec §4.5, §4.7). Existing items are deliberately NOT included,
// to reduce anchoring bias; known persona names are, so the LLM does not
// propose a persona as a Person.
type FastScanInput struct {
	Bucket            eitypes.DataBucket
	Messages          []HistoryLine
	KnownPersonaNames []string
}

// BuildFastScanPrompt builds Step 1's blind-scan prompt. Expected response:
// {"mentioned": [{"name": str}...], "new_items": [{"name": str, "confidence": "high"|"medium"|"low", "description"?: str}...]}.
func BuildFastScanPrompt(in FastScanInput) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "Scan the conversation for %s. ", bucketLabel(in.Bucket))
	sys.WriteString("Do not rely on any existing knowledge of the human beyond what is in this conversation. ")
	if len(in.KnownPersonaNames) > 0 {
		fmt.Fprintf(&sys, "These names belong to AI personas, not people the human knows; never propose them as a Person: %s. ",
			strings.Join(in.KnownPersonaNames, ", "))
	}
	sys.WriteString("Respond with JSON only: " +
		`{"mentioned": [{"name": string}], "new_items": [{"name": string, "confidence": "high"|"medium"|"low", "description": string}]}.`)

	var user strings.Builder
	for _, line := range in.Messages {
		fmt.Fprintf(&user, "%s: %s\n", line.Role, line.Content)
	}
	return Prompt{System: sys.String(), User: user.String()}
}

// ItemMatchInput assembles Step 2 (match candidate against existing items).
type ItemMatchInput struct {
	Bucket        eitypes.DataBucket
	CandidateName string
	Description   string
	Existing      []eitypes.DataItemBase
}

// BuildItemMatchPrompt builds Step 2's prompt. Expected response:
// {"match_id": string|null, "confidence": "high"|"medium"|"low"}.
func BuildItemMatchPrompt(in ItemMatchInput) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "Decide whether the candidate %s below refers to one of the existing entries, or is new. ", bucketLabel(in.Bucket))
	sys.WriteString(`Respond with JSON only: {"match_id": string|null, "confidence": "high"|"medium"|"low"}.`)

	var user strings.Builder
	fmt.Fprintf(&user, "Candidate: %s\n", in.CandidateName)
	if in.Description != "" {
		fmt.Fprintf(&user, "Description: %s\n", in.Description)
	}
	user.WriteString("\nExisting entries:\n")
	for _, item := range in.Existing {
		fmt.Fprintf(&user, "- id=%s name=%s: %s\n", item.ID, item.Name, item.Description)
	}
	return Prompt{System: sys.String(), User: user.String()}
}

// ItemUpdateInput assembles Step 3 (update or create the matched item from
// the conversation chunk, plus memorable quote extraction).
type ItemUpdateInput struct {
	Bucket   eitypes.DataBucket
	Existing *eitypes.DataItemBase // nil when creating new
	Messages []HistoryLine
	Persona  PersonaView
}

// BuildItemUpdatePrompt builds Step 3's prompt. Expected response is the
// full updated item (shape depends on bucket) plus a "quotes" array of
// {"text": string, "reason": string} memorable phrases (spec §4.5, §4.7).
func BuildItemUpdatePrompt(in ItemUpdateInput) Prompt {
	var sys strings.Builder
	if in.Existing != nil {
		fmt.Fprintf(&sys, "Update the existing %s entry %q using the conversation below. ", bucketLabel(in.Bucket), in.Existing.Name)
	} else {
		fmt.Fprintf(&sys, "Create a new %s entry from the conversation below. ", bucketLabel(in.Bucket))
	}
	sys.WriteString("Respond with JSON only, containing the full item fields for this bucket " +
		`(name, description, sentiment between -1 and 1, and any bucket-specific fields such as confidence, ` +
		`level_current/level_ideal, or an "exposure_impact" hint of "high"|"medium"|"low"|"none"), ` +
		`plus a "quotes" array of {"text": string, "reason": string} for any memorable phrases, ` +
		"verbatim from the conversation, worth preserving.")

	var user strings.Builder
	for _, line := range in.Messages {
		fmt.Fprintf(&user, "%s: %s\n", line.Role, line.Content)
	}
	return Prompt{System: sys.String(), User: user.String()}
}

// BuildPersonaGenerationPrompt asks the LLM to flesh out a new persona's
// traits/topics/descriptions from a name and a short human-authored
// description (spec §4.5).
func BuildPersonaGenerationPrompt(name, description string) Prompt {
	sys := fmt.Sprintf("Generate a persona profile for %q, described by the human as: %q. ", name, description) +
		`Respond with JSON only: {"short_description": string, "long_description": string, ` +
		`"traits": [{"name": string, "description": string}], ` +
		`"topics": [{"name": string, "description": string, "perspective": string, "approach": string, "personal_stake": string}]}.`
	return Prompt{System: sys, User: description}
}

// BuildPersonaExplorePrompt asks the LLM for new topics aligned to a
// persona's traits and recent conversation themes, run only when the
// persona's topic count is low after the Expire phase (spec §4.7).
func BuildPersonaExplorePrompt(persona PersonaView, recentThemes []string) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "Suggest 2-3 new topics %s might want to explore, aligned with these traits:\n", persona.Name)
	for _, t := range persona.Traits {
		fmt.Fprintf(&sys, "- %s: %s\n", t.Name, t.Description)
	}
	sys.WriteString(`Respond with JSON only: {"topics": [{"name": string, "description": string, ` +
		`"perspective": string, "approach": string, "personal_stake": string}]}.`)

	user := strings.Join(recentThemes, "\n")
	return Prompt{System: sys.String(), User: user}
}

// BuildDescriptionCheckPrompt asks a conservative yes/no: does a persona's
// recent departure from its established character warrant regenerating its
// descriptions? Default (on any parse failure) is no (spec §4.7, §9).
func BuildDescriptionCheckPrompt(persona PersonaView, recentSummary string) Prompt {
	sys := fmt.Sprintf("Has %s drastically departed from its established character recently? "+
		"Be conservative: only answer true for a clear, sustained shift, not a single unusual reply. "+
		`Respond with JSON only: {"should_update": bool, "reason": string}.`, persona.Name)
	return Prompt{System: sys, User: recentSummary}
}

// BuildCeremonyExposurePrompt builds the ceremony Exposure phase's prompt:
// for each of the persona's existing topics, ask whether and how much the
// recent conversation touched it (spec §4.7 "Exposure phase queues Step 1
// scans for the persona's topics from recent messages"). Expected response:
// {"updates": [{"topic_id": string, "exposure_impact": "high"|"medium"|"low"|"none"}]}.
func BuildCeremonyExposurePrompt(persona PersonaView, topics []eitypes.PersonaTopic, recentMessages []HistoryLine) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "Below are %s's topics of interest and the recent conversation. ", persona.Name)
	sys.WriteString("For each topic, judge how much the recent conversation touched on it: " +
		`"high", "medium", "low", or "none". Respond with JSON only: ` +
		`{"updates": [{"topic_id": string, "exposure_impact": "high"|"medium"|"low"|"none"}]}.` + "\n\nTopics:\n")
	for _, t := range topics {
		fmt.Fprintf(&sys, "- id=%s name=%s: %s\n", t.ID, t.Name, t.Description)
	}

	var user strings.Builder
	for _, line := range recentMessages {
		fmt.Fprintf(&user, "%s: %s\n", line.Role, line.Content)
	}
	return Prompt{System: sys.String(), User: user.String()}
}

// BuildPersonaDescriptionRegeneratePrompt regenerates a persona's
// short/long descriptions once BuildDescriptionCheckPrompt's conservative
// check has returned true (spec §4.7 "Description regeneration runs last").
func BuildPersonaDescriptionRegeneratePrompt(persona PersonaView, recentSummary string) Prompt {
	sys := fmt.Sprintf("Rewrite %s's short and long description to reflect its recent character development. ", persona.Name) +
		`Respond with JSON only: {"short_description": string, "long_description": string}.`
	return Prompt{System: sys, User: recentSummary}
}

// BuildDailyCeremonyMessage renders Ei's once-per-day batched confirmation
// message, up to five pending validations (spec §4.7). This is plain
// computation, not an LLM prompt: Ei's ceremony message is templated, not
// generated.
func BuildDailyCeremonyMessage(pending []eitypes.Validation) string {
	if len(pending) == 0 {
		return ""
	}
	capped := pending
	if len(capped) > 5 {
		capped = capped[:5]
	}
	var b strings.Builder
	b.WriteString("Daily Confirmations:\n")
	for i, v := range capped {
		summary := v.Summary
		if summary == "" {
			summary = string(v.Kind)
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, summary)
	}
	if len(pending) > len(capped) {
		fmt.Fprintf(&b, "...and %d more.\n", len(pending)-len(capped))
	}
	b.WriteString("Reply with the item number and one of: keep global / move <persona group> / delete.")
	return b.String()
}
