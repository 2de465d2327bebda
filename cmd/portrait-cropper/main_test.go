package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/portrait-cropper/pkg/cropper"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseFace(t *testing.T) {
	got, err := parseFace("160, 120,80,80")
	if err != nil {
		t.Fatal(err)
	}
	if got != (types.Rect{X: 160, Y: 120, W: 80, H: 80}) {
		t.Errorf("parseFace = %+v", got)
	}
	for _, bad := range []string{"", "1,2,3", "a,b,c,d"} {
		if _, err := parseFace(bad); err == nil {
			t.Errorf("parseFace(%q) should fail", bad)
		}
	}
}

func TestDecideCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "init-config", cfgPath); err != nil {
		t.Fatalf("init-config failed: %v", err)
	}
	if _, err := execute(t, "init-config", cfgPath); err == nil {
		t.Error("init-config should refuse to overwrite")
	}

	out, err := execute(t, "--config", cfgPath, "decide", "--width", "400", "--height", "400", "--face", "160,120,80,80")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	var d cropper.Decision
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decide output is not JSON: %q", out)
	}
	if d.Status != cropper.StatusOK || d.Crop == nil || d.Crop.Width() != 200 {
		t.Errorf("Unexpected decision %+v", d)
	}

	out, err = execute(t, "--config", cfgPath, "decide", "--width", "1000", "--height", "300", "--face", "400,50,200,240")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatal(err)
	}
	if d.Status != cropper.StatusManualReview || d.Reason == "" {
		t.Errorf("Expected manual review, got %+v", d)
	}
}

func TestDecideRejectsDegenerateInput(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if _, err := execute(t, "init-config", cfgPath); err != nil {
		t.Fatal(err)
	}

	cases := [][]string{
		{"--width", "0", "--height", "0", "--face", "0,0,0,0"},
		{"--width=-400", "--height", "400", "--face", "160,120,80,80"},
		{"--width", "400", "--height", "400", "--face", "160,120,0,80"},
		{"--width", "400", "--height", "400", "--face=160,120,80,-5"},
	}
	for _, args := range cases {
		out, err := execute(t, append([]string{"--config", cfgPath, "decide"}, args...)...)
		if err == nil {
			t.Errorf("decide %v should fail, printed %q", args, out)
		}
	}
}

func TestBatchIDMustBeAPlainName(t *testing.T) {
	for _, cmd := range []string{"run", "export"} {
		if _, err := execute(t, cmd, "--batch-id", "../../../escaped"); err == nil {
			t.Errorf("%s should reject a batch id with path segments", cmd)
		}
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	if _, err := execute(t, "reset"); err == nil {
		t.Error("reset without --yes should fail")
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTRAIT_INPUT_DIR", filepath.Join(dir, "in"))
	t.Setenv("PORTRAIT_PROCESSED_INDEX", filepath.Join(dir, "index.json"))
	if err := os.MkdirAll(filepath.Join(dir, "in"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in", "a.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.json")
	if _, err := execute(t, "init-config", cfgPath); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", cfgPath, "status", "--json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	var st struct {
		Stages []struct {
			Name   string `json:"name"`
			Images int    `json:"images"`
		} `json:"stages"`
		LedgerFiles int `json:"ledger_files"`
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output is not JSON: %q", out)
	}
	if st.Stages[0].Name != "input_raw" || st.Stages[0].Images != 1 || st.LedgerFiles != 0 {
		t.Errorf("Unexpected status %+v", st)
	}
}
