package meter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeProfile is a test helper that writes a single profile YAML file into dir.
func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProfileRepository_LoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "sdm630.yaml", `
type: "sdm630"
registers:
  voltage: { address: 0, words: 2, scale: 1, unit: "V" }
  power:   { address: 12, words: 2, scale: 1, unit: "W", table: "input" }
`)
	writeProfile(t, dir, "notes.txt", "ignored")

	repo, err := NewProfileRepository(dir)
	if err != nil {
		t.Fatalf("NewProfileRepository: %v", err)
	}

	regs, ok := repo.Lookup("sdm630")
	if !ok {
		t.Fatal("expected sdm630 profile")
	}
	if regs[RegPower].Address != 12 || regs[RegPower].Unit != "W" {
		t.Errorf("power descriptor = %+v", regs[RegPower])
	}
	if len(repo.Profiles()) != 1 {
		t.Errorf("got %d profiles, want 1", len(repo.Profiles()))
	}
	if regs[RegPower].Table != TableInput {
		t.Errorf("power table = %q, want input", regs[RegPower].Table)
	}
	if regs[RegVoltage].Table.Resolved() != TableHolding {
		t.Errorf("voltage table = %q, want holding", regs[RegVoltage].Table.Resolved())
	}
	if repo.Profiles()[0].Fingerprint == "" {
		t.Error("fingerprint not computed")
	}

	if _, ok := repo.Lookup("unknown"); ok {
		t.Error("unexpected profile for unknown type")
	}
}

func TestProfileRepository_MissingDirIsEmpty(t *testing.T) {
	repo, err := NewProfileRepository(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(repo.Profiles()) != 0 {
		t.Errorf("expected no profiles")
	}
}

func TestProfileRepository_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name: "bad word count",
			files: map[string]string{"a.yaml": `
type: "a"
registers:
  voltage: { address: 0, words: 3 }
`},
			wantErr: "unsupported word count",
		},
		{
			name: "unknown table",
			files: map[string]string{"a.yaml": `
type: "a"
registers:
  voltage: { address: 0, words: 2, table: "coil" }
`},
			wantErr: "unsupported table",
		},
		{
			name: "empty registers",
			files: map[string]string{"a.yaml": `
type: "a"
`},
			wantErr: "registers must not be empty",
		},
		{
			name: "duplicate type",
			files: map[string]string{
				"a.yaml": "type: \"a\"\nregisters:\n  voltage: { address: 0, words: 1 }\n",
				"b.yaml": "type: \"a\"\nregisters:\n  voltage: { address: 0, words: 1 }\n",
			},
			wantErr: "duplicate meter type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tc.files {
				writeProfile(t, dir, name, content)
			}
			_, err := NewProfileRepository(dir)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
