package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"streampact/pkg/db"
	"streampact/pkg/domain"
	"streampact/pkg/protocol"
	"streampact/pkg/streamer"
	"streampact/pkg/token"
	"streampact/pkg/webhooks"
	"streampact/services/pact/internal/config"
	"streampact/services/pact/internal/feed"
	"streampact/services/pact/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ledger := token.NewLedger(cfg.Token.Decimals)
	tokens := map[string]token.Token{cfg.Token.ID: ledger}
	custodian := streamer.NewInMemory(tokens, time.Now)

	for _, acct := range cfg.DevAccounts {
		bal, _ := new(big.Int).SetString(acct.Balance, 10)
		ledger.Mint(acct.Account, bal)
		if err := ledger.Approve(acct.Account, protocol.Account, bal); err != nil {
			log.Error("dev account approve failed", "account", acct.Account, "err", err)
			os.Exit(1)
		}
	}

	eventLog := protocol.NewLog()
	hub := feed.NewHub(log)
	sinks := []protocol.Sink{eventLog, hub}

	pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Error("archive connect failed", "err", err)
		os.Exit(1)
	}
	var archive *store.Store
	if pool != nil {
		archive = store.New(pool)
		if err := archive.EnsureSchema(context.Background()); err != nil {
			log.Error("archive schema failed", "err", err)
			os.Exit(1)
		}
		// The archive and webhook sinks do network I/O; run them off the
		// protocol's call path.
		sinks = append(sinks, protocol.Async(archiveSink(archive, cfg.Token.ID, log), 256))
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, protocol.Async(webhooks.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, log), 256))
	}

	engine := protocol.New(protocol.Options{
		Tokens:    tokens,
		Custodian: custodian,
		Now:       time.Now,
		SlotReuse: protocol.SlotReusePolicy(cfg.SlotReuse),
		Sink:      protocol.Fanout(sinks...),
	})

	r := newRouter(&app{engine: engine, ledger: ledger, events: eventLog, hub: hub, archive: archive})

	log.Info("pact server listening", "addr", cfg.ListenAddr, "slot_reuse", cfg.SlotReuse, "token", cfg.Token.ID)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// archiveSink writes every notification through to postgres, plus an
// agreement row on settlement. Archive failures are logged and dropped; the
// in-memory engine stays authoritative.
func archiveSink(st *store.Store, tokenID string, log *slog.Logger) protocol.Sink {
	return protocol.SinkFunc(func(e protocol.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.AppendEvent(ctx, e); err != nil {
			log.Error("archive event failed", "type", e.Type, "err", err)
		}
		if e.Type != protocol.EventInitiated {
			return
		}
		rec := store.AgreementRecord{
			SlotID:          e.SlotID,
			InstanceAddress: stringField(e.Payload, "instance_address"),
			Provider:        stringField(e.Payload, "provider"),
			Client:          stringField(e.Payload, "client"),
			ContractURI:     stringField(e.Payload, "contract_uri"),
			StreamToken:     tokenID,
			StreamID:        stringField(e.Payload, "stream_id"),
			CreatedAt:       e.At,
		}
		if v := stringField(e.Payload, "stream_token"); v != "" {
			rec.StreamToken = v
		}
		if err := st.ArchiveAgreement(ctx, rec); err != nil {
			log.Error("archive agreement failed", "slot_id", e.SlotID, "err", err)
		}
	})
}

func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case domain.Party:
		return string(v)
	default:
		return ""
	}
}
