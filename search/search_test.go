/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package search

import (
	"regexp"
	"testing"

	"dexkit/dex"
	"dexkit/internal/types"
	"dexkit/multidex"
)

func buildGroup(t *testing.T) *multidex.MultiDexFile {
	t.Helper()
	f := &dex.File{
		Strings: []string{"Hello, World", "Lcom/example/Root;", "greet"},
		Types:   []dex.TypeID{{DescriptorIdx: 1}},
		Methods: []dex.MethodID{{ClassIdx: 0, ProtoIdx: 0, NameIdx: 2}},
		Protos:  []dex.ProtoID{{ShortyIdx: 0, ReturnTypeIdx: 0}},
		Classes: []dex.ClassDef{{ClassIdx: 0, SuperclassIdx: types.InvalidIndex, SourceFileIdx: types.InvalidIndex}},
	}
	return &multidex.MultiDexFile{Primary: f}
}

func TestSerialScan_FindsMatchingClass(t *testing.T) {
	files := &multidex.Files{MultiDex: []*multidex.MultiDexFile{buildGroup(t)}}
	pattern := regexp.MustCompile(`^Lcom/example/.*`)
	evidence, err := SerialScan(files, pattern, NewCategorySet(CategoryClass))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("got %d evidence, want 1", len(evidence))
	}
	ctx, ok := evidence[0].GetContext().(ContextClass)
	if !ok {
		t.Fatalf("context is %T, want ContextClass", evidence[0].GetContext())
	}
	if ctx.Name != "Lcom/example/Root;" {
		t.Errorf("class name = %q, want Lcom/example/Root;", ctx.Name)
	}
}

func TestSerialScan_FindsMatchingMethod(t *testing.T) {
	files := &multidex.Files{MultiDex: []*multidex.MultiDexFile{buildGroup(t)}}
	pattern := regexp.MustCompile(`^greet$`)
	evidence, err := SerialScan(files, pattern, NewCategorySet(CategoryMethod))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("got %d evidence, want 1", len(evidence))
	}
}

func TestSearch_NilPatternReturnsEmpty(t *testing.T) {
	files := &multidex.Files{MultiDex: []*multidex.MultiDexFile{buildGroup(t)}}
	evidence, err := Search(files, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evidence != nil {
		t.Errorf("expected nil evidence for nil pattern, got %v", evidence)
	}
}

func TestSearch_ParallelMatchesSerial(t *testing.T) {
	files := &multidex.Files{MultiDex: []*multidex.MultiDexFile{buildGroup(t), buildGroup(t)}}
	pattern := regexp.MustCompile(`^greet$`)
	parallel, err := Search(files, pattern, NewCategorySet(CategoryMethod))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	serial, err := SerialScan(files, pattern, NewCategorySet(CategoryMethod))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parallel) != len(serial) {
		t.Errorf("parallel found %d, serial found %d", len(parallel), len(serial))
	}
}
