package reference

import (
	"errors"
	"testing"

	"docRender/internal/errcode"
)

func TestResolveEquivalentShapes(t *testing.T) {
	const id = "ABCDEFGHIJKLMNOPQRSTUVWXY"

	inputs := []string{
		id,
		"  " + id + "\n",
		"https://provider.example/file/d/" + id + "/view",
		"https://provider.example/file/d/" + id + "/view?usp=sharing",
		"https://provider.example/uc?export=download&id=" + id,
		"https://provider.example/open?id=" + id,
		"https://docs.provider.example/document/d/" + id + "/edit",
	}

	for _, in := range inputs {
		got, err := Resolve(in)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", in, err)
		}
		if got != id {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, id)
		}
	}
}

func TestResolveSharePathBeatsBareShape(t *testing.T) {
	got, err := Resolve("https://provider.example/file/d/short-id_1/view")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "short-id_1" {
		t.Fatalf("got %q, want short-id_1", got)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "not a valid reference", "tooshort", "https://provider.example/folders/"} {
		_, err := Resolve(in)
		if !errors.Is(err, errcode.ErrInvalidReference) {
			t.Errorf("Resolve(%q) err = %v, want ErrInvalidReference", in, err)
		}
	}
}
