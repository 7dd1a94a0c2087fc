package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnect_AddressAndURL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, addr := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		client, err := Connect(ctx, addr)
		if err != nil {
			t.Fatalf("Connect(%q): %v", addr, err)
		}
		if err := client.Set(ctx, "k", "v", 0).Err(); err != nil {
			t.Errorf("Set via %q: %v", addr, err)
		}
		client.Close()
	}
}

func TestConnect_BadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "redis://:bad@host:notaport"); err == nil {
		t.Fatal("Connect with a malformed URL should fail")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := Connect(context.Background(), addr); err == nil {
		t.Fatal("Connect to a closed server should fail")
	}
}
