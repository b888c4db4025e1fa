package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSeed = `
organizations:
  - id: org_1
    name: Acme
metrics:
  - {id: m_chars, organization: org_1, name: Characters, event_name: email_sent, property: num_characters, aggregation: sum}
  - {id: m_peak, organization: org_1, name: Peak, event_name: email_sent, property: peak_bandwith, aggregation: max}
  - {id: m_count, organization: org_1, name: Emails, event_name: email_sent, aggregation: count}
plan_versions:
  - id: pv_1
    organization: org_1
    plan: Starter
    components:
      - {id: pc_1, metric: m_chars, free_units: 50, cost_per_batch: 5, units_per_batch: 100}
      - {id: pc_2, metric: m_peak, free_units: 0, cost_per_batch: 0.05, units_per_batch: 1}
      - {id: pc_3, metric: m_count, free_units: 1, cost_per_batch: 2, units_per_batch: 1}
    adjustment: {type: percentage, amount: -1}
subscriptions:
  - {id: sub_1, organization: org_1, customer: cus_1, plan_version: pv_1, start_date: -24h}
events:
  - {organization: org_1, customer: cus_1, event_name: email_sent, time_created: -3h, properties: {num_characters: 350, peak_bandwith: 65}}
  - {organization: org_1, customer: cus_1, event_name: email_sent, time_created: -2h, properties: {num_characters: 125, peak_bandwith: 148}}
  - {organization: org_1, customer: cus_1, event_name: email_sent, time_created: -1h, properties: {num_characters: 543, peak_bandwith: 16}}
`

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Flags are package globals; reset the ones tests touch.
	t.Cleanup(func() {
		cfgFile, useMemory, seedFile = "usagebill.yaml", false, ""
		draftJSON, draftStart, draftEnd = false, "", ""
		adjustVersion, adjustType, adjustAmount = "", "", ""
	})
	t.Setenv("USAGEBILL_LOG_LEVEL", "error")
	t.Setenv("USAGEBILL_AUTH_BCRYPT_COST", "4")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDraft_JSON(t *testing.T) {
	seed := writeFile(t, "seed.yaml", testSeed)

	out, err := execute(t, "draft", "--memory", "--seed", seed, "--org", "org_1", "--customer", "cus_1", "--json")
	if err != nil {
		t.Fatalf("draft error: %v\n%s", err, out)
	}

	var doc struct {
		CustomerID string `json:"customer_id"`
		Lines      []struct {
			SubscriptionID string `json:"subscription_id"`
			Subtotal       string `json:"subtotal"`
			CostDue        string `json:"cost_due"`
			Components     []struct {
				ComponentID string `json:"component_id"`
				Cost        string `json:"cost"`
			} `json:"components"`
		} `json:"lines"`
		TotalDue string `json:"total_due"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}

	if len(doc.Lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1", len(doc.Lines))
	}
	line := doc.Lines[0]
	if line.SubscriptionID != "sub_1" {
		t.Errorf("subscription_id = %s, want sub_1", line.SubscriptionID)
	}
	if line.Subtotal != "61.4" {
		t.Errorf("subtotal = %s, want 61.4", line.Subtotal)
	}
	if line.CostDue != "60.79" {
		t.Errorf("cost_due = %s, want 60.79", line.CostDue)
	}
	if len(line.Components) != 3 || line.Components[0].ComponentID != "pc_1" {
		t.Errorf("components = %+v", line.Components)
	}
	if doc.TotalDue != "60.79" {
		t.Errorf("total_due = %s, want 60.79", doc.TotalDue)
	}
}

func TestDraft_Table(t *testing.T) {
	seed := writeFile(t, "seed.yaml", testSeed)

	out, err := execute(t, "draft", "--memory", "--seed", seed, "--org", "org_1", "--customer", "cus_1")
	if err != nil {
		t.Fatalf("draft error: %v\n%s", err, out)
	}
	for _, want := range []string{"Subscription sub_1", "pc_1", "PERCENTAGE", "Total due: 60.79"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDraft_NoSubscription(t *testing.T) {
	seed := writeFile(t, "seed.yaml", testSeed)

	_, err := execute(t, "draft", "--memory", "--seed", seed, "--org", "org_1", "--customer", "cus_unknown")
	if err == nil {
		t.Fatal("expected error for customer without subscription")
	}
}

func TestDraft_InvalidWindow(t *testing.T) {
	_, err := execute(t, "draft", "--memory", "--org", "org_1", "--customer", "cus_1", "--start", "yesterday")
	if err == nil || !strings.Contains(err.Error(), "--start") {
		t.Errorf("err = %v, want --start error", err)
	}
}

func TestSeed_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "billing.db")
	cfg := writeFile(t, "usagebill.yaml", "database:\n  dsn: \""+dsn+"\"\n")
	seed := writeFile(t, "seed.yaml", testSeed)

	out, err := execute(t, "seed", seed, "--config", cfg)
	if err != nil {
		t.Fatalf("seed error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "events:        3") {
		t.Errorf("output missing event count:\n%s", out)
	}

	// The data persists for the next command.
	out, err = execute(t, "plans", "adjust", "--config", cfg, "--version", "pv_1", "--type", "fixed", "--amount", "-1")
	if err != nil {
		t.Fatalf("plans adjust error: %v\n%s", err, out)
	}

	out, err = execute(t, "draft", "--config", cfg, "--org", "org_1", "--customer", "cus_1", "--json")
	if err != nil {
		t.Fatalf("draft error: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"total_due": "60.40"`) {
		t.Errorf("output missing total 60.40:\n%s", out)
	}
}

func TestPlansAdjust_InvalidType(t *testing.T) {
	_, err := execute(t, "plans", "adjust", "--memory", "--version", "pv_1", "--type", "bogus")
	if err == nil {
		t.Error("expected error for invalid adjustment type")
	}
}

func TestPlansAdjust_MissingAmount(t *testing.T) {
	seed := writeFile(t, "seed.yaml", testSeed)

	_, err := execute(t, "plans", "adjust", "--memory", "--seed", seed, "--version", "pv_1", "--type", "price_override")
	if err == nil || !strings.Contains(err.Error(), "--amount is required") {
		t.Errorf("error = %v, want missing --amount", err)
	}
}

func TestKeysCreate(t *testing.T) {
	seed := writeFile(t, "seed.yaml", testSeed)

	out, err := execute(t, "keys", "create", "--memory", "--seed", seed, "--org", "org_1")
	if err != nil {
		t.Fatalf("keys create error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ub_") {
		t.Errorf("output missing raw key:\n%s", out)
	}
}

func TestValidate(t *testing.T) {
	good := writeFile(t, "usagebill.yaml", "database:\n  driver: memory\n")
	out, err := execute(t, "validate", "--config", good)
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("output:\n%s", out)
	}

	bad := writeFile(t, "usagebill.yaml", "draft:\n  workers: -1\n")
	if _, err := execute(t, "validate", "--config", bad); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "usagebill dev") {
		t.Errorf("output = %q", out)
	}
}
