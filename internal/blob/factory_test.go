package blob

import (
	"context"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	bs, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || bs.Driver() != DriverMemory {
		t.Fatalf("memory: %v", err)
	}
	bs, err = Open(ctx, Config{Root: t.TempDir()})
	if err != nil || bs.Driver() != DriverFilesystem {
		t.Fatalf("default fs: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
