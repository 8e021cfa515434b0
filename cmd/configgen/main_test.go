package main

import (
	"path/filepath"
	"testing"

	"github.com/danmuck/tcpq/internal/testutil/testlog"
)

func TestRunWritesThenValidates(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"hub", "client"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := run(options{Kind: kind, Output: path}); err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
		if err := run(options{Kind: kind, Output: path}); err == nil {
			t.Fatalf("expected refusal to overwrite %s without force", kind)
		}
		if err := run(options{Kind: kind, Output: path, Force: true}); err != nil {
			t.Fatalf("force write %s: %v", kind, err)
		}
		if err := run(options{Kind: kind, Validate: true, Input: path}); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
	}
}
