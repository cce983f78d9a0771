// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseMigration(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    migration
		wantErr bool
	}{
		{name: "defaults to up", args: nil, want: migration{action: "up", target: -1}},
		{name: "status", args: []string{"status"}, want: migration{action: "status", target: -1}},
		{name: "single step down", args: []string{"down"}, want: migration{action: "down", target: -1}},
		{name: "down to version", args: []string{"down", "0"}, want: migration{action: "down", target: 0}},
		{name: "unknown action", args: []string{"redo"}, wantErr: true},
		{name: "version on up", args: []string{"up", "3"}, wantErr: true},
		{name: "negative version", args: []string{"down", "-1"}, wantErr: true},
		{name: "too many args", args: []string{"down", "1", "2"}, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseMigration(test.args)
			if (err != nil) != test.wantErr {
				t.Fatalf("expected error %v, got %v", test.wantErr, err)
			}
			if !test.wantErr && got != test.want {
				t.Errorf("expected %+v, got %+v", test.want, got)
			}
		})
	}
}

func TestMigrationPrinterCheck(t *testing.T) {
	tests := []struct {
		name    string
		json    bool
		pending bool
		want    string
		wantErr bool
	}{
		{name: "up to date", want: "Schema is up to date (version 4)"},
		{name: "pending", pending: true, wantErr: true},
		{name: "json pending", json: true, pending: true, want: `{"status":"pending","version":4}`, wantErr: true},
		{name: "json up to date", json: true, want: `{"status":"ok","version":4}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			err := migrationPrinter{out: out, json: test.json}.check(test.pending, 4)

			if (err != nil) != test.wantErr {
				t.Fatalf("expected error %v, got %v", test.wantErr, err)
			}
			if got := strings.TrimSpace(out.String()); got != test.want {
				t.Errorf("expected output %q, got %q", test.want, got)
			}
		})
	}
}

func TestMigrationPrinterEmptyResults(t *testing.T) {
	out := new(bytes.Buffer)
	if err := (migrationPrinter{out: out, json: true}).results(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != `{"applied":[]}` {
		t.Errorf("unexpected output %q", got)
	}
}
