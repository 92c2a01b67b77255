package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"streampact/pkg/domain"
	"streampact/pkg/protocol"
)

// Store is the write-behind archive. The in-memory engine stays
// authoritative; the archive exists for audit queries across restarts.
type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pact_agreements(
	slot_id TEXT PRIMARY KEY,
	instance_address TEXT NOT NULL,
	provider TEXT NOT NULL,
	client TEXT NOT NULL,
	contract_uri TEXT NOT NULL,
	stream_token TEXT NOT NULL,
	stream_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS pact_events(
	id BIGSERIAL PRIMARY KEY,
	event_type TEXT NOT NULL,
	slot_id TEXT,
	actor TEXT,
	at TIMESTAMPTZ NOT NULL,
	payload JSONB
);
`)
	return err
}

type AgreementRecord struct {
	SlotID          string    `json:"slot_id"`
	InstanceAddress string    `json:"instance_address"`
	Provider        string    `json:"provider"`
	Client          string    `json:"client"`
	ContractURI     string    `json:"contract_uri"`
	StreamToken     string    `json:"stream_token"`
	StreamID        string    `json:"stream_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Store) ArchiveAgreement(ctx context.Context, rec AgreementRecord) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO pact_agreements(slot_id,instance_address,provider,client,contract_uri,stream_token,stream_id,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (slot_id) DO NOTHING
`, rec.SlotID, rec.InstanceAddress, rec.Provider, rec.Client, rec.ContractURI, rec.StreamToken, rec.StreamID, rec.CreatedAt)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, e protocol.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO pact_events(event_type,slot_id,actor,at,payload)
VALUES($1,$2,$3,$4,$5::jsonb)
`, string(e.Type), nullable(e.SlotID), nullable(string(e.Actor)), e.At, string(payload))
	return err
}

func (s *Store) ListEvents(ctx context.Context, slotID string) ([]protocol.Event, error) {
	rows, err := s.DB.Query(ctx, `
SELECT event_type, COALESCE(slot_id,''), COALESCE(actor,''), at, COALESCE(payload,'{}'::jsonb)
FROM pact_events
WHERE $1 = '' OR slot_id = $1
ORDER BY id
`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Event
	for rows.Next() {
		var e protocol.Event
		var typ, actor string
		var payload []byte
		if err := rows.Scan(&typ, &e.SlotID, &actor, &e.At, &payload); err != nil {
			return nil, err
		}
		e.Type = protocol.EventType(typ)
		e.Actor = domain.Party(actor)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
