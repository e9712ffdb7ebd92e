package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

var _ tablestore.Store = (*Store)(nil)

type object struct {
	data     []byte
	modified time.Time
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]object
	now     time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]object{}, now: time.Now()}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = object{data: data, modified: f.now}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		mod := f.objects[k].modified
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: &mod})
	}
	return out, nil
}

func TestSaveLoad(t *testing.T) {
	fake := newFakeS3()
	s := NewWithAPI(fake, "tables")
	ctx := context.Background()

	saved, err := s.Save(ctx, dataset.Table{Columns: []string{"age"}, Rows: []dataset.Row{{"age": int64(30)}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["results/"+saved.Name]; !ok {
		t.Fatalf("object not stored under results/: %v", fake.objects)
	}

	tbl, err := s.Load(ctx, saved.Name)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Rows[0]["age"] != int64(30) {
		t.Fatalf("age = %#v", tbl.Rows[0]["age"])
	}
}

func TestOpenMissing(t *testing.T) {
	s := NewWithAPI(newFakeS3(), "tables")
	if _, err := s.Open(context.Background(), "synthetic_nope.csv"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Open(context.Background(), "../x.csv"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	fake := newFakeS3()
	s := NewWithAPI(fake, "tables")
	ctx := context.Background()

	fake.now = time.Now().Add(-72 * time.Hour)
	old, _ := s.PutUpload(ctx, strings.NewReader("a\n1\n"))
	res, _ := s.Save(ctx, dataset.Table{Columns: []string{"a"}})
	fake.now = time.Now()
	fresh, _ := s.PutUpload(ctx, strings.NewReader("a\n2\n"))

	n, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, ok := fake.objects["uploads/"+old]; ok {
		t.Fatal("old upload kept")
	}
	if _, ok := fake.objects["uploads/"+fresh]; !ok {
		t.Fatal("fresh upload removed")
	}
	if _, ok := fake.objects["results/"+res.Name]; !ok {
		t.Fatal("result removed")
	}
}
