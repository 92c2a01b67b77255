package commithash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"streampact/pkg/domain"
)

// SlotID identifies the (nonce, provider, client) negotiation lane. It is
// independent of the proposed terms: only the triple decides where a settled
// instance will live.
func SlotID(nonce string, provider, client domain.Party) string {
	var b strings.Builder
	b.WriteString(nonce)
	b.WriteString("\n")
	b.WriteString(string(provider))
	b.WriteString("\n")
	b.WriteString(string(client))
	b.WriteString("\n")
	sum := sha256.Sum256([]byte(b.String()))
	return "slot_" + hex.EncodeToString(sum[:])
}

// SubSlot derives the slot for a later negotiation generation on the same
// triple. Generation zero is the base slot itself.
func SubSlot(base string, generation int) string {
	if generation == 0 {
		return base
	}
	sum := sha256.Sum256([]byte(base + "\n" + fmt.Sprintf("g%d", generation) + "\n"))
	return "slot_" + hex.EncodeToString(sum[:])
}

// Commitment binds one party's identity to a complete set of proposed terms.
// Baking the committing identity into the hash is what prevents a party from
// matching against their own prior commitment.
func Commitment(party domain.Party, terms domain.AgreementTerms) (string, error) {
	b, err := json.Marshal(struct {
		Party domain.Party          `json:"party"`
		Terms domain.AgreementTerms `json:"terms"`
	}{party, terms})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// TerminationID binds a party's identity to a mutual-consent reason text,
// with the same anti-self-trigger property as Commitment.
func TerminationID(party domain.Party, reasonText string) string {
	sum := sha256.Sum256([]byte(string(party) + "\n" + reasonText + "\n"))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// InstanceAddress is the deterministic ledger account an agreement instance
// settles at, derived from the slot alone so funds can be pre-positioned
// before the instance exists.
func InstanceAddress(slotID string) string {
	sum := sha256.Sum256([]byte("instance\n" + slotID + "\n"))
	return "agr_" + hex.EncodeToString(sum[:20])
}
