/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package multidex

import (
	"sync"
	"testing"

	"dexkit/dex"
	"dexkit/internal/types"
)

// newTestFile builds a minimal *dex.File with one string, one type and
// one class_def carrying a populated ClassData -- enough to exercise
// LoadClass without going through the real binary loader.
func newTestFile(t *testing.T, descriptor string, checksum uint32, hasData bool) *dex.File {
	t.Helper()
	f := &dex.File{
		Strings: []string{descriptor},
		Types:   []dex.TypeID{{DescriptorIdx: 0}},
	}
	f.Header.Checksum = checksum
	cd := dex.ClassDef{ClassIdx: 0, SuperclassIdx: types.InvalidIndex, SourceFileIdx: types.InvalidIndex}
	if hasData {
		cd.Data = &dex.ClassData{}
	}
	f.Classes = []dex.ClassDef{cd}
	return f
}

func TestLoadClass_FindsOwningDex(t *testing.T) {
	primary := newTestFile(t, "Lcom/example/Root;", 0xAAAA, false)
	secondary := newTestFile(t, "Lcom/example/Root;", 0xBBBB, true)
	m := &MultiDexFile{Primary: primary, Secondary: []*dex.File{secondary}}

	f, cd, err := m.LoadClass("Lcom/example/Root;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != secondary {
		t.Errorf("resolved to wrong DEX file")
	}
	if cd == nil || cd.Data == nil {
		t.Errorf("expected resolved class to carry class_data")
	}
}

func TestLoadClass_CachesResult(t *testing.T) {
	secondary := newTestFile(t, "Lcom/example/Root;", 0xBBBB, true)
	m := &MultiDexFile{Primary: newTestFile(t, "Lcom/example/Other;", 0xAAAA, true), Secondary: []*dex.File{secondary}}

	_, _, err := m.LoadClass("Lcom/example/Root;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner := m.loadedClasses["Lcom/example/Root;"]; owner != secondary.DexName() {
		t.Errorf("cache entry = %q, want %q", owner, secondary.DexName())
	}

	f2, _, err := m.LoadClass("Lcom/example/Root;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f2 != secondary {
		t.Errorf("second LoadClass returned a different DEX than the cached one")
	}
}

func TestLoadClass_NotFound(t *testing.T) {
	m := &MultiDexFile{Primary: newTestFile(t, "Lcom/example/Other;", 1, true)}
	if _, _, err := m.LoadClass("Lcom/example/Missing;"); err == nil {
		t.Errorf("expected error for unresolvable class, got none")
	}
}

func TestLoadClass_ConcurrentCallersSeeSameOwner(t *testing.T) {
	secondary := newTestFile(t, "Lcom/example/Root;", 0xBBBB, true)
	m := &MultiDexFile{Primary: newTestFile(t, "Lcom/example/Other;", 1, true), Secondary: []*dex.File{secondary}}

	var wg sync.WaitGroup
	owners := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, _, err := m.LoadClass("Lcom/example/Root;")
			if err == nil {
				owners[i] = f.DexName()
			}
		}(i)
	}
	wg.Wait()
	for _, o := range owners {
		if o != secondary.DexName() {
			t.Errorf("got owner %q, want %q", o, secondary.DexName())
		}
	}
}
