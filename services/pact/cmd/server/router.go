package main

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"streampact/pkg/domain"
	"streampact/pkg/httpx"
	"streampact/pkg/protocol"
	"streampact/pkg/token"
	"streampact/services/pact/internal/feed"
	"streampact/services/pact/internal/store"
)

type app struct {
	engine *protocol.Engine
	ledger *token.Ledger
	events *protocol.Log
	hub    *feed.Hub

	// archive is nil without a configured database; event reads then serve
	// the in-memory log.
	archive *store.Store
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/pact", func(api chi.Router) {
		api.Post("/proposals", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Caller domain.Party          `json:"caller"`
				Terms  domain.AgreementTerms `json:"terms"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			out, err := a.engine.Propose(req.Terms, req.Caller)
			if err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			status := 202
			if out.Settled {
				status = 201
			}
			httpx.WriteJSON(w, status, map[string]any{
				"request_id": httpx.NewRequestID(),
				"proposal":   out,
			})
		})

		api.Get("/slots", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			nonce := strings.TrimSpace(q.Get("nonce"))
			provider := domain.Party(strings.TrimSpace(q.Get("provider")))
			client := domain.Party(strings.TrimSpace(q.Get("client")))
			if nonce == "" || provider == "" || client == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "nonce, provider and client are required", nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"slot_id":    a.engine.Slot(nonce, provider, client),
			})
		})

		api.Get("/agreements/{slot_id}", func(w http.ResponseWriter, r *http.Request) {
			view, err := a.engine.View(chi.URLParam(r, "slot_id"))
			if err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"agreement":  view,
			})
		})

		api.Post("/agreements/{slot_id}/terminations:mutual", func(w http.ResponseWriter, r *http.Request) {
			slotID := chi.URLParam(r, "slot_id")
			var req struct {
				Caller domain.Party `json:"caller"`
				Reason string       `json:"reason"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := a.engine.TerminateByMutualConsent(slotID, req.Caller, req.Reason); err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			writeAgreement(w, a, slotID)
		})

		api.Post("/agreements/{slot_id}/terminations:at-will", func(w http.ResponseWriter, r *http.Request) {
			slotID := chi.URLParam(r, "slot_id")
			caller, ok := readCaller(w, r)
			if !ok {
				return
			}
			if err := a.engine.TerminateAtWill(slotID, caller); err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			writeAgreement(w, a, slotID)
		})

		api.Post("/agreements/{slot_id}/terminations:breach", func(w http.ResponseWriter, r *http.Request) {
			slotID := chi.URLParam(r, "slot_id")
			caller, ok := readCaller(w, r)
			if !ok {
				return
			}
			if err := a.engine.TerminateByMaterialBreach(slotID, caller); err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			writeAgreement(w, a, slotID)
		})

		api.Post("/agreements/{slot_id}/terminations:rage", func(w http.ResponseWriter, r *http.Request) {
			slotID := chi.URLParam(r, "slot_id")
			var req struct {
				Caller domain.Party `json:"caller"`
				Reason string       `json:"reason"`
				Info   string       `json:"info"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			reason, ok := domain.ParseTerminationReason(req.Reason)
			if !ok {
				httpx.WriteError(w, 400, "BAD_REQUEST", "unknown termination reason "+req.Reason, nil)
				return
			}
			if err := a.engine.RageTerminate(slotID, req.Caller, reason, req.Info); err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			writeAgreement(w, a, slotID)
		})

		api.Post("/agreements/{slot_id}/notices:at-will", noticeHandler(a, a.engine.IssueNoticeOfTermination))
		api.Post("/agreements/{slot_id}/notices:breach", noticeHandler(a, a.engine.IssueNoticeOfMaterialBreach))
		api.Post("/agreements/{slot_id}/notices:breach-withdraw", noticeHandler(a, a.engine.WithdrawNoticeOfMaterialBreach))
		api.Post("/agreements/{slot_id}/notices:cure", noticeHandler(a, a.engine.IssueNoticeOfCure))

		api.Post("/agreements/{slot_id}/recover", func(w http.ResponseWriter, r *http.Request) {
			slotID := chi.URLParam(r, "slot_id")
			var req struct {
				Token string `json:"token"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := a.engine.EmergencyRecoverTokens(slotID, req.Token); err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			writeAgreement(w, a, slotID)
		})

		api.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			slotID := strings.TrimSpace(r.URL.Query().Get("slot_id"))
			if a.archive != nil {
				events, err := a.archive.ListEvents(r.Context(), slotID)
				if err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, 200, map[string]any{
					"request_id": httpx.NewRequestID(),
					"events":     events,
				})
				return
			}
			all := a.events.Events()
			out := all
			if slotID != "" {
				out = nil
				for _, e := range all {
					if e.SlotID == slotID {
						out = append(out, e)
					}
				}
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"events":     out,
			})
		})

		api.Get("/events/feed", a.hub.ServeHTTP)

		api.Post("/dev/fund", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Account string `json:"account"`
				Amount  string `json:"amount"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
			if !ok || amount.Sign() <= 0 {
				httpx.WriteError(w, 400, "BAD_REQUEST", "amount must be a positive decimal string", nil)
				return
			}
			if strings.TrimSpace(req.Account) == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "account is required", nil)
				return
			}
			a.ledger.Mint(req.Account, amount)
			if err := a.ledger.Approve(req.Account, protocol.Account, a.ledger.BalanceOf(req.Account)); err != nil {
				httpx.WriteProtocolError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id": httpx.NewRequestID(),
				"account":    req.Account,
				"balance":    a.ledger.BalanceOf(req.Account),
			})
		})
	})

	return r
}

func noticeHandler(a *app, op func(slotID string, caller domain.Party, info string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID := chi.URLParam(r, "slot_id")
		var req struct {
			Caller domain.Party `json:"caller"`
			Info   string       `json:"info"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if err := op(slotID, req.Caller, req.Info); err != nil {
			httpx.WriteProtocolError(w, err)
			return
		}
		writeAgreement(w, a, slotID)
	}
}

func readCaller(w http.ResponseWriter, r *http.Request) (domain.Party, bool) {
	var req struct {
		Caller domain.Party `json:"caller"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return "", false
	}
	if req.Caller == "" {
		httpx.WriteError(w, 400, "BAD_REQUEST", "caller is required", nil)
		return "", false
	}
	return req.Caller, true
}

func writeAgreement(w http.ResponseWriter, a *app, slotID string) {
	view, err := a.engine.View(slotID)
	if err != nil {
		httpx.WriteProtocolError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id": httpx.NewRequestID(),
		"agreement":  view,
	})
}
