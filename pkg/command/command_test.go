package command

import (
	"testing"

	"github.com/cuber-it/heinzel-gateway/pkg/session"
)

func TestIsCommand(t *testing.T) {
	cases := map[string]bool{
		"!x":      true,
		"!status": true,
		"!":       false,
		"! x":     false,
		"/x":      false,
		"//x":     false,
		"":        false,
		"! ":      false,
		"  !x  ":  true,
	}
	for input, want := range cases {
		if got := IsCommand(input); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	p := Parse("!set model=claude-3")
	if p.Name != "set" || p.Args != "model=claude-3" {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestExecuteSetAndGet(t *testing.T) {
	sessions := session.New()
	deps := Deps{Provider: "claude", Model: "claude-3", Sessions: sessions}

	setRes := Execute(Parse("!set model=claude-3-opus"), "sess1", deps)
	if setRes.Output["error"] != nil {
		t.Fatalf("unexpected error: %v", setRes.Output["error"])
	}

	getRes := Execute(Parse("!get model?"), "sess1", deps)
	if getRes.Output["value"] != "claude-3-opus" {
		t.Fatalf("expected round-tripped value, got %+v", getRes.Output)
	}
}

func TestExecuteGetUnsetKey(t *testing.T) {
	sessions := session.New()
	deps := Deps{Sessions: sessions}
	res := Execute(Parse("!get temperature?"), "sess2", deps)
	if res.Output["set"] != false {
		t.Fatalf("expected set=false for untouched key, got %+v", res.Output)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	res := Execute(Parse("!bogus"), "sess3", Deps{})
	if res.Output["error"] == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestExecuteHelp(t *testing.T) {
	res := Execute(Parse("!help"), "sess4", Deps{})
	if _, ok := res.Output["commands"]; !ok {
		t.Fatalf("expected commands list in help output")
	}
	if _, ok := res.Output["note"]; !ok {
		t.Fatalf("expected note in help output")
	}
}

type fakeLogger struct{ enabled bool }

func (f *fakeLogger) Enabled() bool     { return f.enabled }
func (f *fakeLogger) SetEnabled(v bool) { f.enabled = v }

func TestExecuteDlglog(t *testing.T) {
	lg := &fakeLogger{enabled: true}
	deps := Deps{DialogLog: lg}

	res := Execute(Parse("!dlglog off"), "s", deps)
	if res.Output["ok"] != true || res.Output["dialog_logging"] != false {
		t.Fatalf("expected ok=true dialog_logging=false, got %+v", res.Output)
	}
	if lg.enabled {
		t.Fatal("expected logger disabled")
	}

	res = Execute(Parse("!dlglog"), "s", deps)
	if res.Output["error"] == nil || res.Output["current"] != false {
		t.Fatalf("expected error plus current flag for missing arg, got %+v", res.Output)
	}

	res = Execute(Parse("!dlglog maybe"), "s", deps)
	if res.Output["error"] == nil {
		t.Fatalf("expected error for unknown value, got %+v", res.Output)
	}
}

func TestExecuteStatusSnapshot(t *testing.T) {
	deps := Deps{
		Provider:        "claude",
		Model:           "claude-3",
		Connected:       true,
		AvailableModels: []string{"claude-3"},
		DialogLog:       &fakeLogger{enabled: true},
		RetryConfig:     map[string]interface{}{"max_retries": 3},
		RateLimitHits:   2,
	}
	res := Execute(Parse("!status"), "s", deps)
	for _, key := range []string{"provider", "connected", "default_model", "available_models", "dialog_logging", "retry_config", "rate_limit_hits"} {
		if _, ok := res.Output[key]; !ok {
			t.Errorf("expected %q in status output", key)
		}
	}
	if res.Output["rate_limit_hits"] != 2 {
		t.Errorf("expected rate_limit_hits=2, got %v", res.Output["rate_limit_hits"])
	}
}

func TestExecuteGetAllParams(t *testing.T) {
	sessions := session.New()
	deps := Deps{Sessions: sessions}
	Execute(Parse("!set temperature=0.7"), "sess5", deps)

	res := Execute(Parse("!get"), "sess5", deps)
	params, ok := res.Output["session_params"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected session_params map, got %+v", res.Output)
	}
	if params["temperature"] != 0.7 {
		t.Fatalf("expected temperature round-trip, got %+v", params)
	}
}

func TestExecuteSetRejectsOutOfRange(t *testing.T) {
	sessions := session.New()
	deps := Deps{Sessions: sessions}

	if res := Execute(Parse("!set temperature=3"), "s", deps); res.Output["error"] == nil {
		t.Fatal("expected error for temperature out of range")
	}
	if res := Execute(Parse("!set max_tokens=0"), "s", deps); res.Output["error"] == nil {
		t.Fatal("expected error for max_tokens below 1")
	}
	if res := Execute(Parse("!set model=bogus"), "s", Deps{Sessions: sessions, AvailableModels: []string{"real"}}); res.Output["error"] == nil {
		t.Fatal("expected error for unknown model")
	}
}
