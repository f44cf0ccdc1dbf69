package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestPublicObjectURL(t *testing.T) {
	base, err := parsePublicEndpoint("https://assets.example.com")
	if err != nil {
		t.Fatalf("parse endpoint: %v", err)
	}

	got := publicObjectURL(base, "pages", "public/documents/7/job/page-0001.jpg", true)
	want := "https://assets.example.com/pages/public/documents/7/job/page-0001.jpg"
	if got != want {
		t.Fatalf("path style url = %q, want %q", got, want)
	}

	got = publicObjectURL(base, "pages", "public/documents/7/job/page-0001.jpg", false)
	want = "https://pages.assets.example.com/public/documents/7/job/page-0001.jpg"
	if got != want {
		t.Fatalf("dns style url = %q, want %q", got, want)
	}
}

func TestParsePublicEndpoint(t *testing.T) {
	if _, err := parsePublicEndpoint("not a url"); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
	u, err := parsePublicEndpoint("//cdn.example.com:9000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "http" || u.Host != "cdn.example.com:9000" {
		t.Fatalf("unexpected url %v", u)
	}
}

func TestParseBucketLookup(t *testing.T) {
	cases := map[string]minio.BucketLookupType{
		"":     minio.BucketLookupAuto,
		"AUTO": minio.BucketLookupAuto,
		"dns":  minio.BucketLookupDNS,
		"path": minio.BucketLookupPath,
	}
	for in, want := range cases {
		got, err := parseBucketLookup(in)
		if err != nil || got != want {
			t.Fatalf("parseBucketLookup(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseBucketLookup("virtual"); err == nil {
		t.Fatal("expected error for unknown lookup")
	}
}

func TestPublicReadPolicyScopesPrefix(t *testing.T) {
	raw, err := publicReadPolicy("pages", PublicPrefix)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	var doc bucketPolicy
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if len(doc.Statement) != 1 || doc.Statement[0].Resource[0] != "arn:aws:s3:::pages/public/*" {
		t.Fatalf("unexpected policy %s", raw)
	}
}

func TestErrorClassification(t *testing.T) {
	noKey := fmt.Errorf("remove: %w", minio.ErrorResponse{Code: "NoSuchKey"})
	if !IsNoSuchKey(noKey) || IsNoSuchBucket(noKey) {
		t.Fatal("NoSuchKey misclassified")
	}
	noBucket := minio.ErrorResponse{Code: "NoSuchBucket"}
	if !IsNoSuchBucket(noBucket) || IsNoSuchKey(noBucket) {
		t.Fatal("NoSuchBucket misclassified")
	}
	if IsNoSuchKey(nil) || IsNoSuchKey(errors.New("connection reset")) {
		t.Fatal("unrelated errors must not be treated as missing keys")
	}
}
