package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const usage = `usage:
  pactctl propose   --caller <acct> --nonce <n> --provider <acct> --client <acct> --token <id> --total <amount> --term-seconds <s> [--contract-uri <uri>] [--at-will-days <d>] [--cure-days <d>] [--rage-reasons <csv>]
  pactctl slot      --nonce <n> --provider <acct> --client <acct>
  pactctl agreement --slot <slot_id>
  pactctl events    [--slot <slot_id>]
  pactctl notice    --kind at-will|breach|breach-withdraw|cure --slot <slot_id> --caller <acct> [--info <text>]
  pactctl terminate --kind mutual|at-will|breach|rage --slot <slot_id> --caller <acct> [--reason <text>] [--info <text>]
  pactctl recover   --slot <slot_id> --token <id>
  pactctl fund      --account <acct> --amount <amount>

common flags: --base-url (default http://localhost:8084)`

func main() {
	if len(os.Args) < 2 {
		fail(usage)
	}
	c := client{base: "http://localhost:8084", http: &http.Client{Timeout: 15 * time.Second}}
	switch os.Args[1] {
	case "propose":
		c.runPropose(os.Args[2:])
	case "slot":
		c.runSlot(os.Args[2:])
	case "agreement":
		c.runAgreement(os.Args[2:])
	case "events":
		c.runEvents(os.Args[2:])
	case "notice":
		c.runNotice(os.Args[2:])
	case "terminate":
		c.runTerminate(os.Args[2:])
	case "recover":
		c.runRecover(os.Args[2:])
	case "fund":
		c.runFund(os.Args[2:])
	default:
		fail(usage)
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&c.base, "base-url", c.base, "pact server base url")
	return fs
}

func (c *client) runPropose(args []string) {
	fs := c.flags("propose")
	caller := fs.String("caller", "", "calling party account")
	nonce := fs.String("nonce", "", "agreement nonce")
	provider := fs.String("provider", "", "provider account")
	clientAcct := fs.String("client", "", "client account")
	contractURI := fs.String("contract-uri", "", "legal contract uri")
	tokenID := fs.String("token", "", "stream token id")
	total := fs.String("total", "", "total streamed tokens (decimal string)")
	termSeconds := fs.Int64("term-seconds", 0, "term length in seconds")
	atWillDays := fs.Int64("at-will-days", 0, "at-will notice period in days")
	cureDays := fs.Int64("cure-days", 0, "breach cure window in days")
	rageReasons := fs.String("rage-reasons", "", "comma separated rage clauses")
	_ = fs.Parse(args)
	require(*caller != "" && *nonce != "" && *provider != "" && *clientAcct != "" && *tokenID != "" && *total != "" && *termSeconds > 0,
		"propose requires --caller, --nonce, --provider, --client, --token, --total and --term-seconds")

	totalNum := json.Number(strings.TrimSpace(*total))
	clauses := map[string]any{
		"at_will_days":   *atWillDays,
		"cure_time_days": *cureDays,
	}
	for _, reason := range strings.Split(*rageReasons, ",") {
		switch strings.TrimSpace(strings.ToUpper(reason)) {
		case "":
		case "LEGAL_COMPULSION":
			clauses["legal_compulsion"] = true
		case "MORAL_TURPITUDE":
			clauses["moral_turpitude"] = true
		case "BANKRUPTCY", "DISSOLUTION", "INSOLVENCY":
			clauses["bankruptcy_dissolution_insolvency"] = true
		case "COUNTERPARTY_MALFEASANCE":
			clauses["counterparty_malfeasance"] = true
		case "LOSS_OF_KEY_CONTROL":
			clauses["loss_of_key_control"] = true
		default:
			fail("unknown rage reason: " + reason)
		}
	}
	c.post("/pact/proposals", map[string]any{
		"caller": *caller,
		"terms": map[string]any{
			"nonce":                 *nonce,
			"provider":              *provider,
			"client":                *clientAcct,
			"contract_uri":          *contractURI,
			"term_length_seconds":   *termSeconds,
			"stream_token":          *tokenID,
			"total_streamed_tokens": totalNum,
			"termination_clauses":   clauses,
		},
	})
}

func (c *client) runSlot(args []string) {
	fs := c.flags("slot")
	nonce := fs.String("nonce", "", "agreement nonce")
	provider := fs.String("provider", "", "provider account")
	clientAcct := fs.String("client", "", "client account")
	_ = fs.Parse(args)
	require(*nonce != "" && *provider != "" && *clientAcct != "", "slot requires --nonce, --provider and --client")
	q := url.Values{"nonce": {*nonce}, "provider": {*provider}, "client": {*clientAcct}}
	c.get("/pact/slots?" + q.Encode())
}

func (c *client) runAgreement(args []string) {
	fs := c.flags("agreement")
	slot := fs.String("slot", "", "slot id")
	_ = fs.Parse(args)
	require(*slot != "", "agreement requires --slot")
	c.get("/pact/agreements/" + *slot)
}

func (c *client) runEvents(args []string) {
	fs := c.flags("events")
	slot := fs.String("slot", "", "slot id filter")
	_ = fs.Parse(args)
	path := "/pact/events"
	if *slot != "" {
		path += "?slot_id=" + url.QueryEscape(*slot)
	}
	c.get(path)
}

func (c *client) runNotice(args []string) {
	fs := c.flags("notice")
	kind := fs.String("kind", "", "at-will, breach, breach-withdraw or cure")
	slot := fs.String("slot", "", "slot id")
	caller := fs.String("caller", "", "calling party account")
	info := fs.String("info", "", "notice detail")
	_ = fs.Parse(args)
	require(*slot != "" && *caller != "", "notice requires --slot and --caller")
	switch *kind {
	case "at-will", "breach", "breach-withdraw", "cure":
	default:
		fail("notice --kind must be at-will, breach, breach-withdraw or cure")
	}
	c.post(fmt.Sprintf("/pact/agreements/%s/notices:%s", *slot, *kind), map[string]any{
		"caller": *caller,
		"info":   *info,
	})
}

func (c *client) runTerminate(args []string) {
	fs := c.flags("terminate")
	kind := fs.String("kind", "", "mutual, at-will, breach or rage")
	slot := fs.String("slot", "", "slot id")
	caller := fs.String("caller", "", "calling party account")
	reason := fs.String("reason", "", "reason text (mutual) or reason name (rage)")
	info := fs.String("info", "", "supporting detail (rage)")
	_ = fs.Parse(args)
	require(*slot != "" && *caller != "", "terminate requires --slot and --caller")
	switch *kind {
	case "mutual":
		c.post(fmt.Sprintf("/pact/agreements/%s/terminations:mutual", *slot), map[string]any{
			"caller": *caller, "reason": *reason,
		})
	case "at-will", "breach":
		c.post(fmt.Sprintf("/pact/agreements/%s/terminations:%s", *slot, *kind), map[string]any{
			"caller": *caller,
		})
	case "rage":
		require(*reason != "", "terminate --kind rage requires --reason")
		c.post(fmt.Sprintf("/pact/agreements/%s/terminations:rage", *slot), map[string]any{
			"caller": *caller, "reason": *reason, "info": *info,
		})
	default:
		fail("terminate --kind must be mutual, at-will, breach or rage")
	}
}

func (c *client) runRecover(args []string) {
	fs := c.flags("recover")
	slot := fs.String("slot", "", "slot id")
	tokenID := fs.String("token", "", "token id to sweep")
	_ = fs.Parse(args)
	require(*slot != "" && *tokenID != "", "recover requires --slot and --token")
	c.post(fmt.Sprintf("/pact/agreements/%s/recover", *slot), map[string]any{"token": *tokenID})
}

func (c *client) runFund(args []string) {
	fs := c.flags("fund")
	account := fs.String("account", "", "ledger account to fund")
	amount := fs.String("amount", "", "amount (decimal string)")
	_ = fs.Parse(args)
	require(*account != "" && *amount != "", "fund requires --account and --amount")
	c.post("/pact/dev/fund", map[string]any{"account": *account, "amount": *amount})
}

func (c *client) post(path string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		fail(err.Error())
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		fail(err.Error())
	}
	emit(resp)
}

func (c *client) get(path string) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		fail(err.Error())
	}
	emit(resp)
}

func emit(resp *http.Response) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(err.Error())
	}
	fmt.Println(strings.TrimSpace(string(raw)))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func require(ok bool, msg string) {
	if !ok {
		fail(msg)
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
