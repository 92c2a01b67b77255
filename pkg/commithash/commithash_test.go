package commithash

import (
	"math/big"
	"testing"

	"streampact/pkg/domain"
)

func baseTerms() domain.AgreementTerms {
	return domain.AgreementTerms{
		Nonce:               "n-1",
		Provider:            "acc_provider",
		Client:              "acc_client",
		ContractURI:         "ipfs://sow",
		TermLengthSeconds:   2592000,
		StreamToken:         "tok_dev",
		TotalStreamedTokens: big.NewInt(1000000),
	}
}

func TestSlotIDIgnoresTerms(t *testing.T) {
	a := SlotID("n-1", "acc_provider", "acc_client")
	b := SlotID("n-1", "acc_provider", "acc_client")
	if a != b {
		t.Fatalf("slot id must be deterministic")
	}
	if SlotID("n-2", "acc_provider", "acc_client") == a {
		t.Fatalf("nonce must change the slot")
	}
	if SlotID("n-1", "acc_client", "acc_provider") == a {
		t.Fatalf("party order must change the slot")
	}
}

func TestCommitmentBindsIdentity(t *testing.T) {
	terms := baseTerms()
	asProvider, err := Commitment(terms.Provider, terms)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	asClient, err := Commitment(terms.Client, terms)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if asProvider == asClient {
		t.Fatalf("same terms from different parties must hash differently")
	}

	again, _ := Commitment(terms.Provider, terms)
	if again != asProvider {
		t.Fatalf("commitment must be deterministic")
	}

	changed := terms
	changed.ContractURI = "ipfs://sow-v2"
	other, _ := Commitment(terms.Provider, changed)
	if other == asProvider {
		t.Fatalf("any term change must change the commitment")
	}
}

func TestTerminationIDBindsIdentity(t *testing.T) {
	a := TerminationID("acc_provider", "irreconcilable differences")
	b := TerminationID("acc_client", "irreconcilable differences")
	if a == b {
		t.Fatalf("same reason from different parties must hash differently")
	}
}

func TestSubSlot(t *testing.T) {
	base := SlotID("n-1", "acc_provider", "acc_client")
	if SubSlot(base, 0) != base {
		t.Fatalf("generation zero is the base slot")
	}
	g1 := SubSlot(base, 1)
	if g1 == base || SubSlot(base, 2) == g1 {
		t.Fatalf("generations must derive distinct slots")
	}
}

func TestInstanceAddressDeterministic(t *testing.T) {
	base := SlotID("n-1", "acc_provider", "acc_client")
	if InstanceAddress(base) != InstanceAddress(base) {
		t.Fatalf("instance address must be deterministic")
	}
	if InstanceAddress(base) == InstanceAddress(SubSlot(base, 1)) {
		t.Fatalf("distinct slots must yield distinct addresses")
	}
}
