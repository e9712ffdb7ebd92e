package natskv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// fakeKV implements the subset of jetstream.KeyValue the cache uses.
type fakeKV struct {
	jetstream.KeyValue
	data map[string][]byte
	err  error
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	value []byte
}

func (e fakeEntry) Value() []byte { return e.value }

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{value: v}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.data[key] = value
	return uint64(len(f.data)), nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	if _, ok := f.data[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(f.data, key)
	return nil
}

func TestCache_RoundTrip(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}}
	c := New(kv)
	ctx := context.Background()

	if err := c.Set(ctx, "job:42", []byte("done"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := kv.data["job_42"]; !ok {
		t.Fatalf("expected sanitized key, have %v", kv.data)
	}
	val, found, err := c.Get(ctx, "job:42")
	if err != nil || !found || string(val) != "done" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}

	if err := c.Delete(ctx, "job:42"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "job:42"); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
	if _, found, _ := c.Get(ctx, "job:42"); found {
		t.Fatal("expected miss")
	}
}

func TestCache_GetError(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}, err: errors.New("timeout")}
	if _, _, err := New(kv).Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error")
	}
}

func TestKey(t *testing.T) {
	tests := map[string]string{
		"job:abc-123":       "job_abc-123",
		"idem/POST/key.v1=": "idem/POST/key.v1=",
		"sp ace*>":          "sp_ace__",
		"ключ":              "____",
	}
	for in, want := range tests {
		if got := Key(in); got != want {
			t.Errorf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}
