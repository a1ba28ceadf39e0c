package orchestrators

import (
	"testing"

	"github.com/flare576/ei/internal/eitypes"
)

func TestShouldExtractFrequencyGate(t *testing.T) {
	cases := []struct {
		name             string
		bucket           eitypes.DataBucket
		unextractedCount int
		totalExtractions int
		want             bool
	}{
		{"fact below floor", eitypes.BucketFact, 3, 0, false},
		{"fact at floor with zero history", eitypes.BucketFact, 10, 0, true},
		{"fact below saturated threshold", eitypes.BucketFact, 15, 20, false},
		{"fact at saturated threshold", eitypes.BucketFact, 20, 20, true},
		{"trait same rule as fact", eitypes.BucketTrait, 9, 0, false},
		{"topic always qualifies", eitypes.BucketTopic, 1, 999, true},
		{"person always qualifies", eitypes.BucketPerson, 1, 999, true},
		{"nothing unextracted never qualifies", eitypes.BucketFact, 0, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ShouldExtract(c.bucket, c.unextractedCount, c.totalExtractions)
			if got != c.want {
				t.Fatalf("ShouldExtract(%v, %d, %d) = %v, want %v", c.bucket, c.unextractedCount, c.totalExtractions, got, c.want)
			}
		})
	}
}

func TestShouldExtractIdempotentOverSameInputs(t *testing.T) {
	// Running the gate twice over the same counts must yield the same
	// verdict (spec §8 "Extraction idempotence").
	first := ShouldExtract(eitypes.BucketFact, 12, 5)
	second := ShouldExtract(eitypes.BucketFact, 12, 5)
	if first != second {
		t.Fatalf("ShouldExtract not idempotent: %v != %v", first, second)
	}
}
