package orchestrators

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/prompts"
	"github.com/flare576/ei/internal/state"
)

// BuildDailyCeremonyContent renders Ei's batched confirmation message for
// the day, or "" if there is nothing pending (spec §4.7 "Daily Ceremony").
func BuildDailyCeremonyContent(st *state.Manager) string {
	return prompts.BuildDailyCeremonyMessage(st.ValidationList())
}

var ceremonyReplyLine = regexp.MustCompile(`(?i)^\s*(\d+)\s*[:.)]?\s*(keep|move|delete)\s*(.*)$`)

// ApplyDailyCeremonyReply parses the human's reply to Ei's daily
// confirmation message and resolves each referenced validation: "keep"
// leaves the global write as-is, "move <group>" re-tags it into a
// persona-scoped group, "delete" removes the underlying item (spec §4.7:
// "interpreted as the response and applied (keep global / move to persona
// group / delete)"). Returns a human-readable summary per resolved line.
// Lines that don't match a pending validation's index are left untouched
// and remain pending for the next ceremony.
func ApplyDailyCeremonyReply(st *state.Manager, reply string) []string {
	pending := st.ValidationList()
	var resolved []string

	for _, line := range strings.Split(reply, "\n") {
		m := ceremonyReplyLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > len(pending) {
			continue
		}
		v := pending[idx-1]
		action := strings.ToLower(m[2])
		arg := strings.TrimSpace(m[3])

		switch action {
		case "keep":
			resolved = append(resolved, v.Summary+": kept")
		case "delete":
			removeItem(st, v)
			resolved = append(resolved, v.Summary+": deleted")
		case "move":
			if arg != "" {
				regroupItem(st, v, []string{arg})
				resolved = append(resolved, v.Summary+": moved to "+arg)
			}
		}
		st.ValidationRemove(v.ID)
	}
	return resolved
}

func removeItem(st *state.Manager, v eitypes.Validation) {
	if v.ItemID == "" {
		return
	}
	switch v.Bucket {
	case eitypes.BucketFact:
		st.HumanFactRemove(v.ItemID)
	case eitypes.BucketTrait:
		st.HumanTraitRemove(v.ItemID)
	case eitypes.BucketTopic:
		st.HumanTopicRemove(v.ItemID)
	case eitypes.BucketPerson:
		st.HumanPersonRemove(v.ItemID)
	default:
		st.HumanQuoteRemove(v.ItemID)
	}
}

func regroupItem(st *state.Manager, v eitypes.Validation, groups []string) {
	if v.ItemID == "" {
		return
	}
	human := st.GetHuman()
	switch v.Bucket {
	case eitypes.BucketFact:
		for _, f := range human.Facts {
			if f.ID == v.ItemID {
				f.PersonaGroups = groups
				st.HumanFactUpsert(f, "")
				return
			}
		}
	case eitypes.BucketTrait:
		for _, t := range human.Traits {
			if t.ID == v.ItemID {
				t.PersonaGroups = groups
				st.HumanTraitUpsert(t, "")
				return
			}
		}
	case eitypes.BucketTopic:
		for _, t := range human.Topics {
			if t.ID == v.ItemID {
				t.PersonaGroups = groups
				st.HumanTopicUpsert(t, "")
				return
			}
		}
	case eitypes.BucketPerson:
		for _, p := range human.People {
			if p.ID == v.ItemID {
				p.PersonaGroups = groups
				st.HumanPersonUpsert(p, "")
				return
			}
		}
	}
}
