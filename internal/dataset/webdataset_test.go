package dataset

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStreamShardSkipsNonImages(t *testing.T) {
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	mustShard(t, shard, map[string][]byte{
		"000001.jpg":  []byte("jpeg"),
		"000001.cls":  []byte("3"),
		"000002.png":  []byte("png"),
		"000002.json": []byte("{}"),
	}, []string{"000001.jpg", "000001.cls", "000002.png", "000002.json"})

	samplesCh, errCh := StreamShard(context.Background(), shard)
	var samples []Sample
	for s := range samplesCh {
		samples = append(samples, s)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("StreamShard returned error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Member != "000001.jpg" || string(samples[1].Image) != "png" {
		t.Fatalf("unexpected samples %+v", samples)
	}
}

func TestReadShardMemberMissing(t *testing.T) {
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	mustShard(t, shard, map[string][]byte{"a.png": []byte("x")}, []string{"a.png"})
	if _, err := readShardMember(shard, "b.png"); err == nil {
		t.Fatalf("expected error for missing member")
	}
}
