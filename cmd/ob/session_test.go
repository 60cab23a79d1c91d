package main

import (
	"strings"
	"testing"
)

func TestSessionCmd_RequiresSender(t *testing.T) {
	cfgPath := testConfig(t)
	_, err := runCmd(t, "", "session", "show", "-c", cfgPath, "--tenant", "luigis")
	if err == nil || !strings.Contains(err.Error(), "sender") {
		t.Fatalf("err = %v, want missing --sender error", err)
	}
}

func TestSessionShow_FreshSession(t *testing.T) {
	cfgPath := migratedConfig(t)
	out, err := runCmd(t, "", "session", "show", "-c", cfgPath, "--tenant", "luigis", "--sender", "psid-1")
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	for _, want := range []string{`"tenant_id": "luigis"`, `"channel": "messenger"`, `"state": "menu"`, `"version": 0`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestSessionReset(t *testing.T) {
	cfgPath := migratedConfig(t)
	out, err := runCmd(t, "", "session", "reset", "-c", cfgPath, "--tenant", "luigis", "--channel", "slack", "--sender", "U123")
	if err != nil {
		t.Fatalf("session reset: %v", err)
	}
	if !strings.Contains(out, "Session luigis/slack/U123 reset") {
		t.Errorf("output = %q", out)
	}
}

func TestNotify_HeldOutsideWindow(t *testing.T) {
	cfgPath := migratedConfig(t)

	// The customer never wrote, so the Messenger window is closed.
	out, err := runCmd(t, "", "notify", "-c", cfgPath, "--tenant", "luigis", "--sender", "psid-1", "Your", "order", "is", "ready")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(out, "Window closed for luigis/messenger/psid-1") {
		t.Errorf("notify output = %q", out)
	}

	out, err = runCmd(t, "", "session", "show", "-c", cfgPath, "--tenant", "luigis", "--sender", "psid-1")
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	if !strings.Contains(out, "1 held message(s)") || !strings.Contains(out, "Your order is ready") {
		t.Errorf("held message not listed:\n%s", out)
	}
}

func TestNotify_UnknownTenant(t *testing.T) {
	cfgPath := migratedConfig(t)
	_, err := runCmd(t, "", "notify", "-c", cfgPath, "--tenant", "nobody", "--sender", "psid-1", "hello")
	if err == nil {
		t.Fatal("expected error for unknown tenant")
	}
}

func TestNotify_RequiresMessage(t *testing.T) {
	cfgPath := testConfig(t)
	if _, err := runCmd(t, "", "notify", "-c", cfgPath, "--tenant", "luigis", "--sender", "psid-1"); err == nil {
		t.Fatal("expected error without a message")
	}
}

func TestJanitorCmd_RunsJobs(t *testing.T) {
	cfgPath := migratedConfig(t)
	out, err := runCmd(t, "", "janitor", "-c", cfgPath)
	if err != nil {
		t.Fatalf("janitor: %v", err)
	}
	for _, job := range []string{"prune_events: removed 0", "purge_sessions: removed 0", "expire_pending: removed 0"} {
		if !strings.Contains(out, job) {
			t.Errorf("output missing %q:\n%s", job, out)
		}
	}

	if _, err := runCmd(t, "", "janitor", "-c", cfgPath, "vacuum"); err == nil {
		t.Error("expected error for unknown job")
	}
}
