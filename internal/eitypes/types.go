// Package eitypes defines the Ei processor core's data model (spec §3):
// the human entity, persona entities, messages, quotes, the request queue,
// checkpoints, and the storage blob that ties them together.
package eitypes

import "time"

// Priority orders queue items; higher values are dequeued first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Validated tracks whether a Fact has been confirmed by the human.
type Validated string

const (
	ValidatedNone  Validated = "none"
	ValidatedHuman Validated = "human"
)

// ContextStatus controls whether a message is included in a persona's
// response prompt (spec §3.1, §4.5).
type ContextStatus string

const (
	ContextDefault ContextStatus = "Default"
	ContextAlways  ContextStatus = "Always"
	ContextNever   ContextStatus = "Never"
)

// GeneralGroup is the implicit group assigned when persona_groups is empty.
const GeneralGroup = "General"

// WildcardGroup is the reserved "all groups" marker, valid only on the Ei
// persona (spec §3.3, §9 "Group wildcard").
const WildcardGroup = "*"

// DataItemBase is embedded by every human data bucket entry (spec §3.1).
type DataItemBase struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Sentiment     float64   `json:"sentiment"`
	LastUpdated   time.Time `json:"last_updated"`
	LearnedBy     string    `json:"learned_by,omitempty"`
	PersonaGroups []string  `json:"persona_groups"`
	Embedding     []float64 `json:"embedding,omitempty"`
}

// EffectiveGroups returns persona_groups, treating an empty slice as
// ["General"] per spec §3.3.
func (d *DataItemBase) EffectiveGroups() []string {
	if len(d.PersonaGroups) == 0 {
		return []string{GeneralGroup}
	}
	return d.PersonaGroups
}

// Fact is a biographical data item (spec §3.1).
type Fact struct {
	DataItemBase
	Confidence    float64    `json:"confidence"`
	Validated     Validated  `json:"validated"`
	ValidatedDate *time.Time `json:"validated_date,omitempty"`
}

// Trait is a behavioral-pattern data item (spec §3.1).
type Trait struct {
	DataItemBase
	Strength *float64 `json:"strength,omitempty"`
}

// Topic is a discussable-subject data item with engagement dynamics.
type Topic struct {
	DataItemBase
	LevelCurrent float64 `json:"level_current"`
	LevelIdeal   float64 `json:"level_ideal"`
}

// Person is a relationship data item with engagement dynamics.
type Person struct {
	DataItemBase
	LevelCurrent float64 `json:"level_current"`
	LevelIdeal   float64 `json:"level_ideal"`
	Relationship string  `json:"relationship"`
}

// QuoteSpeaker identifies who said a quote.
type QuoteSpeaker string

const (
	SpeakerHuman QuoteSpeaker = "human"
)

// QuoteCreatedBy records how a quote entered the system.
type QuoteCreatedBy string

const (
	QuoteCreatedExtraction QuoteCreatedBy = "extraction"
	QuoteCreatedHuman      QuoteCreatedBy = "human"
)

// Quote is a memorable phrase lifted from a specific message (spec §3.1).
type Quote struct {
	ID            string         `json:"id"`
	MessageID     string         `json:"message_id"`
	DataItemIDs   []string       `json:"data_item_ids"`
	PersonaGroups []string       `json:"persona_groups"`
	Text          string         `json:"text"`
	Speaker       string         `json:"speaker"` // "human" or a persona name
	Timestamp     time.Time      `json:"timestamp"`
	Start         *int           `json:"start"`
	End           *int           `json:"end"`
	CreatedAt     time.Time      `json:"created_at"`
	CreatedBy     QuoteCreatedBy `json:"created_by"`
}

// EffectiveGroups mirrors DataItemBase.EffectiveGroups for quotes.
func (q *Quote) EffectiveGroups() []string {
	if len(q.PersonaGroups) == 0 {
		return []string{GeneralGroup}
	}
	return q.PersonaGroups
}

// MessageRole identifies the author of a Message.
type MessageRole string

const (
	RoleHuman  MessageRole = "human"
	RoleSystem MessageRole = "system"
)

// Message is a single turn in a persona's conversation thread (spec §3.1).
// The F/R/P/O flags mark per-type extraction completion (fact/trait/
// person/topic) and are omitted from JSON when false (spec §6).
type Message struct {
	ID            string        `json:"id"`
	Role          MessageRole   `json:"role"`
	Content       string        `json:"content"`
	Timestamp     time.Time     `json:"timestamp"`
	Read          bool          `json:"read"`
	ContextStatus ContextStatus `json:"context_status"`
	FactDone      bool          `json:"f,omitempty"`
	TraitDone     bool          `json:"r,omitempty"`
	PersonDone    bool          `json:"p,omitempty"`
	TopicDone     bool          `json:"o,omitempty"`
}

// ExtractionDone reports whether the flag for the given bucket is set.
func (m *Message) ExtractionDone(bucket DataBucket) bool {
	switch bucket {
	case BucketFact:
		return m.FactDone
	case BucketTrait:
		return m.TraitDone
	case BucketPerson:
		return m.PersonDone
	case BucketTopic:
		return m.TopicDone
	default:
		return true
	}
}

// SetExtractionDone sets the flag for the given bucket.
func (m *Message) SetExtractionDone(bucket DataBucket, done bool) {
	switch bucket {
	case BucketFact:
		m.FactDone = done
	case BucketTrait:
		m.TraitDone = done
	case BucketPerson:
		m.PersonDone = done
	case BucketTopic:
		m.TopicDone = done
	}
}

// DataBucket identifies one of the four extracted human data types.
type DataBucket string

const (
	BucketFact   DataBucket = "fact"
	BucketTrait  DataBucket = "trait"
	BucketTopic  DataBucket = "topic"
	BucketPerson DataBucket = "person"
)

// AllBuckets lists every extractable bucket type, in a stable order.
var AllBuckets = []DataBucket{BucketFact, BucketTrait, BucketTopic, BucketPerson}

// HumanSettings holds display preferences, provider accounts, sync, and the
// daily ceremony time (spec §3.1).
type HumanSettings struct {
	DisplayName              string            `json:"display_name,omitempty"`
	ProviderAccounts         map[string]string `json:"provider_accounts,omitempty"` // account -> provider:model
	SyncUsername             string            `json:"sync_username,omitempty"`
	CeremonyLocalTime        string            `json:"ceremony_local_time"` // "HH:MM", local to the human
	CeremonyTimezone         string            `json:"ceremony_timezone,omitempty"`
	DefaultModel             string            `json:"default_model,omitempty"`
	OperationModelConcept    string            `json:"operation_model_concept,omitempty"`
	OperationModelResponse   string            `json:"operation_model_response,omitempty"`
	OperationModelGeneration string            `json:"operation_model_generation,omitempty"`
}

// HumanEntity is the singleton human record (spec §3.1).
type HumanEntity struct {
	Facts       []Fact        `json:"facts"`
	Traits      []Trait       `json:"traits"`
	Topics      []Topic       `json:"topics"`
	People      []Person      `json:"people"`
	Quotes      []Quote       `json:"quotes"`
	Settings    HumanSettings `json:"settings"`
	LastUpdated *time.Time    `json:"last_updated"`
}

// PersonaTopic replaces generic Topic on personas with structured fields
// (spec §3.2).
type PersonaTopic struct {
	DataItemBase
	Perspective      string    `json:"perspective"`
	Approach         string    `json:"approach"`
	PersonalStake    string    `json:"personal_stake"`
	ExposureCurrent  float64   `json:"exposure_current"`
	ExposureDesired  float64   `json:"exposure_desired"`
	LastUpdated      time.Time `json:"last_updated"`
}

// PersonaEntity is one persona (including "ei") (spec §3.2).
type PersonaEntity struct {
	ID                       string         `json:"id"`
	Entity                   string         `json:"entity"` // always "system"
	Name                     string         `json:"name"`
	Aliases                  []string       `json:"aliases"`
	ShortDescription         string         `json:"short_description,omitempty"`
	LongDescription          string         `json:"long_description,omitempty"`
	Model                    string         `json:"model,omitempty"`
	GroupPrimary             string         `json:"group_primary"`
	GroupsVisible            []string       `json:"groups_visible"`
	Traits                   []Trait        `json:"traits"`
	Topics                   []PersonaTopic `json:"topics"`
	IsDynamic                bool           `json:"is_dynamic"`
	IsPaused                 bool           `json:"is_paused"`
	PauseUntil               *time.Time     `json:"pause_until,omitempty"`
	IsArchived               bool           `json:"is_archived"`
	ArchivedDate             *time.Time     `json:"archived_date,omitempty"`
	HeartbeatDelayMs         int64          `json:"heartbeat_delay_ms"`
	ContextWindowMs          int64          `json:"context_window_ms"`
	LastHeartbeat            *time.Time     `json:"last_heartbeat,omitempty"`
	LastUpdated              time.Time      `json:"last_updated"`
	AwaitingCeremonyResponse bool           `json:"awaiting_ceremony_response,omitempty"`
}

// DefaultHeartbeatDelayMs is the default idle threshold (~30 minutes).
const DefaultHeartbeatDelayMs = 30 * 60 * 1000

// EffectiveGroups returns {group_primary} ∪ groups_visible, with "*"
// expanding to mean "all groups" (spec §3.3, GLOSSARY).
func (p *PersonaEntity) EffectiveGroups() []string {
	out := make([]string, 0, len(p.GroupsVisible)+1)
	if p.GroupPrimary != "" {
		out = append(out, p.GroupPrimary)
	}
	out = append(out, p.GroupsVisible...)
	return out
}

// CanRead reports whether this persona can see an item tagged with groups.
func (p *PersonaEntity) CanRead(itemGroups []string) bool {
	if p.IsEi() {
		return true
	}
	effective := p.EffectiveGroups()
	for _, g := range effective {
		if g == WildcardGroup {
			return true
		}
	}
	if len(itemGroups) == 0 {
		itemGroups = []string{GeneralGroup}
	}
	for _, want := range itemGroups {
		if want == WildcardGroup {
			return true
		}
		for _, have := range effective {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsEi reports whether this persona is the reserved Ei persona (wildcard
// visibility holder).
func (p *PersonaEntity) IsEi() bool {
	for _, g := range p.GroupsVisible {
		if g == WildcardGroup {
			return true
		}
	}
	return false
}

// QueueItem is a typed request in the priority queue (spec §3.4).
type QueueItem struct {
	ID          string         `json:"id"`
	Type        RequestType    `json:"type"`
	Priority    Priority       `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
	Attempts    int            `json:"attempts"`
	LastAttempt *time.Time     `json:"last_attempt,omitempty"`
	NotBefore   *time.Time     `json:"not_before,omitempty"`
	NextStep    NextStep       `json:"next_step"`
	System      string         `json:"system,omitempty"`
	User        string         `json:"user,omitempty"`
	Data        map[string]any `json:"data"`
}

// MaxAttempts is the per-item attempt budget before the item is dropped.
const MaxAttempts = 3

// RequestType discriminates how QueueProcessor parses the LLM response.
type RequestType string

const (
	RequestResponse     RequestType = "response"      // free text / structured envelope
	RequestJSON         RequestType = "json"           // strict JSON payload
	RequestRaw          RequestType = "raw"            // untouched text
)

// NextStep selects the handler that runs once a request completes.
type NextStep string

const (
	StepPersonaResponse   NextStep = "persona_response"
	StepHumanFactScan     NextStep = "human_fact_scan"
	StepHumanTraitScan    NextStep = "human_trait_scan"
	StepHumanTopicScan    NextStep = "human_topic_scan"
	StepHumanPersonScan   NextStep = "human_person_scan"
	StepItemMatch         NextStep = "item_match"
	StepItemUpdate        NextStep = "item_update"
	StepPersonaGeneration  NextStep = "persona_generation"
	StepPersonaExposure    NextStep = "persona_exposure_scan" // ceremony Exposure phase
	StepPersonaExplore     NextStep = "persona_explore"       // ceremony Explore phase
	StepPersonaDescribe    NextStep = "persona_describe"      // ceremony Description-check phase
	StepPersonaDescribeApply NextStep = "persona_describe_apply"
	StepHeartbeatCheck     NextStep = "heartbeat_check"
	StepOneShot            NextStep = "one_shot"
)

// ScanStepForBucket maps a data bucket to its Step-1 scan NextStep.
func ScanStepForBucket(bucket DataBucket) NextStep {
	switch bucket {
	case BucketFact:
		return StepHumanFactScan
	case BucketTrait:
		return StepHumanTraitScan
	case BucketTopic:
		return StepHumanTopicScan
	case BucketPerson:
		return StepHumanPersonScan
	default:
		return StepHumanFactScan
	}
}

// CheckpointKind distinguishes automatic from manual checkpoint slots.
type CheckpointKind string

const (
	CheckpointAuto   CheckpointKind = "auto"
	CheckpointManual CheckpointKind = "manual"
)

// AutoSlotCount and ManualSlotCount bound the checkpoint slot ranges
// (slots 0-9 auto/FIFO, 10-14 manual) (spec §3.5).
const (
	AutoSlotCount   = 10
	ManualSlotStart = 10
	ManualSlotCount = 5
)

// CheckpointMeta is the metadata stored alongside a checkpoint blob.
type CheckpointMeta struct {
	ID        string         `json:"id"`
	Slot      int            `json:"slot"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Kind      CheckpointKind `json:"kind"`
}

// ValidationKind discriminates why an ei_validation item was raised
// (spec §3.3, §4.7).
type ValidationKind string

const (
	ValidationCrossPersonaWrite ValidationKind = "cross_persona_write"
	ValidationLowConfidence     ValidationKind = "low_confidence"
	ValidationStaleFact         ValidationKind = "stale_fact"
)

// Validation is a pending confirmation Ei will raise with the human at the
// next daily ceremony (spec §4.7 GLOSSARY "Validation"). Unlike QueueItem,
// a Validation never reaches the LLM transport on its own; it is plain
// accumulated state until the daily ceremony batches it into a message.
type Validation struct {
	ID        string         `json:"id"`
	Kind      ValidationKind `json:"kind"`
	PersonaID string         `json:"persona_id"`
	Bucket    DataBucket     `json:"bucket,omitempty"`
	ItemID    string         `json:"item_id,omitempty"`   // set when it references an existing data item
	Candidate map[string]any `json:"candidate,omitempty"` // raw candidate payload when not yet an item
	Summary   string         `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
}

// FullState is the whole storage blob (spec §6).
type FullState struct {
	Version          int                      `json:"version"`
	Human            HumanEntity              `json:"human"`
	Personas         map[string]PersonaEntity `json:"personas"` // keyed by persona id
	Messages         map[string][]Message     `json:"messages"` // keyed by persona name
	Queue            QueueState               `json:"queue"`
	Settings         HumanSettings            `json:"settings"`
	Checkpoints      []CheckpointMeta         `json:"checkpoints"`
	Validations      []Validation             `json:"validations,omitempty"`
	ExtractionTotals map[string]int           `json:"extraction_totals,omitempty"` // key: personaID+"|"+bucket
	LastCeremonyDay  map[string]string        `json:"last_ceremony_day,omitempty"` // key: personaID, value YYYY-MM-DD
}

// ExtractionTotalKey builds the ExtractionTotals map key for a persona+bucket
// pair (spec §4.9).
func ExtractionTotalKey(personaID string, bucket DataBucket) string {
	return personaID + "|" + string(bucket)
}

// QueueState is the on-wire representation of the queue (spec §6).
type QueueState struct {
	Items  []QueueItem `json:"items"`
	Paused bool        `json:"paused"`
}

// CurrentBlobVersion is the storage blob schema version this build writes.
const CurrentBlobVersion = 1
