package target

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// EquivalenceKey returns the hash find_equivalent indexes on when the
// target's policy is Same_make_and_condition, and "" otherwise (§4.3,
// §9). Two targets with the same non-empty key are candidates for
// collapse; SQLiteStore.FindEquivalent matches on the key alone and
// does not re-compare the targets with Equal.
func (t *Target) EquivalenceKey() string {
	if t.Equivalence != EquivalenceSameMakeCondition {
		return ""
	}
	type keyable struct {
		BuildProcess BuildProcess `json:"build_process"`
		Condition    *Condition   `json:"condition,omitempty"`
	}
	enc, err := json.Marshal(keyable{BuildProcess: t.BuildProcess, Condition: t.Condition})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:])
}

// EquivalentTo reports whether t and candidate collapse to a single
// stored target under candidate's equivalence policy (§4.3): structural
// equality of build_process plus condition when the policy requires it,
// never otherwise.
func (t *Target) EquivalentTo(candidate *Target) bool {
	if candidate.Equivalence != EquivalenceSameMakeCondition {
		return false
	}
	if t.Equivalence != candidate.Equivalence {
		return false
	}
	if !t.BuildProcess.Equal(candidate.BuildProcess) {
		return false
	}
	return t.Condition.Equal(candidate.Condition)
}
