//go:build integration

package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := Connect(url, "natsutil-test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestPublishSubscribe(t *testing.T) {
	nc := connect(t)
	ch := make(chan ping, 1)
	sub, err := Subscribe(nc, "combo.integ.ping", nil, func(_ context.Context, p ping) { ch <- p })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	// malformed payloads are dropped without reaching the handler
	if err := nc.Publish("combo.integ.ping", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "combo.integ.ping", ping{Reason: "integ", Count: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-ch:
		if p.Reason != "integ" {
			t.Fatalf("unexpected %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
