package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwbudde/algo-tes/internal/store"
	"github.com/cwbudde/algo-tes/internal/testutil"
)

func writeSweep(t *testing.T, dir string) (string, testutil.Sweep) {
	t.Helper()
	s := testutil.DefaultSweep()
	data, err := json.Marshal(s.Records())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "sweep.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path, s
}

func sweepArgs(s testutil.Sweep) []string {
	tes := s.TES
	return []string{
		"-nnorm", fmt.Sprint(len(s.NormalBias)),
		"-nsc", fmt.Sprint(len(s.SCBias)),
		"-rshunt", fmt.Sprint(tes.Rshunt),
		"-tc", fmt.Sprint(tes.Tc), "-tc-err", fmt.Sprint(0.05 * tes.Tc),
		"-tbath", fmt.Sprint(tes.Tbath), "-tbath-err", "1e-3",
		"-g", fmt.Sprint(tes.G), "-g-err", fmt.Sprint(0.1 * tes.G),
		"-samples", "32",
	}
}

func TestRunReportAndStore(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path, s := writeSweep(t, dir)

	var stdout, stderr bytes.Buffer
	args := append(sweepArgs(s), "-out", filepath.Join(dir, "out"), "-simple", "-percentiles", "16:84", path)
	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr.String())
	}
	for _, want := range []string{"rload", "rn (IV)", "tload", "optimum resolution", "optimum speed"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("report lacks %q:\n%s", want, stdout.String())
		}
	}

	db, err := store.NewStore(filepath.Join(dir, "out", "tesiv.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer db.Close()
	ids, err := db.ListRuns()
	if err != nil || len(ids) != 1 {
		t.Fatalf("runs = %v, err %v", ids, err)
	}
}

func TestRunUsage(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage: tesiv") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunBadRegionCounts(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path, _ := writeSweep(t, dir)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-nodb", "-nnorm", "0", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "nnorm") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunBadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		flag, value string
	}{
		{"-transition", "9:3"},
		{"-transition", "seven"},
		{"-percentiles", "90:10"},
		{"-percentiles", "0:200"},
	}
	for _, tt := range tests {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-nodb", tt.flag, tt.value, "sweep.json"}, &stdout, &stderr); code != 2 {
			t.Fatalf("%s %s: exit %d, want 2", tt.flag, tt.value, code)
		}
		if !strings.Contains(stderr.String(), "invalid value") {
			t.Fatalf("%s %s: stderr = %q", tt.flag, tt.value, stderr.String())
		}
	}
}
