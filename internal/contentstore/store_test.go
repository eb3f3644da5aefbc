package contentstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/capa-engine/internal/contentstore"
)

func TestLocate(t *testing.T) {
	cases := []struct {
		courseKey, filename string
		want                contentstore.Location
	}{
		{"Org/Course/Run", "uk_subs_vid1.srt.sjson", "assets/Org_Course_Run/uk_subs_vid1.srt.sjson"},
		{"/Org/Course/Run/", "subs.sjson", "assets/Org_Course_Run/subs.sjson"},
		{"Org/Course/Run", "../escape.txt", "assets/Org_Course_Run/escape.txt"},
	}
	for _, tc := range cases {
		if got := contentstore.Locate(tc.courseKey, tc.filename); got != tc.want {
			t.Errorf("Locate(%q, %q) = %q, want %q", tc.courseKey, tc.filename, got, tc.want)
		}
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := contentstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	loc := contentstore.Locate("Org/Course/Run", "subs.sjson")

	if err := s.Put(ctx, loc, []byte(`{"text": ["hi"]}`), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := s.Get(ctx, loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(b) != `{"text": ["hi"]}` {
		t.Errorf("Get = %s", b)
	}

	// overwrite is allowed
	if err := s.Put(ctx, loc, []byte(`{}`), "application/json"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	b, _ = s.Get(ctx, loc)
	if string(b) != `{}` {
		t.Errorf("Get after overwrite = %s", b)
	}

	if err := s.Delete(ctx, loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, loc); !errors.Is(err, contentstore.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestFSStoreMissing(t *testing.T) {
	ctx := context.Background()
	s, err := contentstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	loc := contentstore.Location("assets/nowhere/missing.sjson")
	if _, err := s.Get(ctx, loc); !errors.Is(err, contentstore.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, loc); !errors.Is(err, contentstore.ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
}
