/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package multidex aggregates the DEX files belonging to one
// application package into a unified view with cross-DEX class
// resolution.
package multidex

import (
	"fmt"
	"sync"

	"dexkit/dex"
	"dexkit/internal/trace"
)

// MultiDexFile groups one package's DEX files: a primary classes.dex
// plus zero or more secondary DEX files, and the decoded manifest
// alongside its raw bytes.
type MultiDexFile struct {
	Primary         *dex.File
	Secondary       []*dex.File
	AndroidManifest interface{} // android.AndroidManifest value; kept untyped here to avoid an import cycle with package android
	ManifestXML     []byte

	mu            sync.RWMutex
	loadedClasses map[string]string // class descriptor -> owning DexFile's DexName()
}

// Files is the top-level archive aggregate: every multi-DEX group found
// in the archive plus every non-DEX, non-manifest, non-ARSC file kept
// as raw bytes.
type Files struct {
	MultiDex []*MultiDexFile
	Binaries map[string][]byte
}

// all returns every DEX file in the group, primary first.
func (m *MultiDexFile) all() []*dex.File {
	out := make([]*dex.File, 0, 1+len(m.Secondary))
	out = append(out, m.Primary)
	out = append(out, m.Secondary...)
	return out
}

// byName looks up one DEX file in the group by its DexName() label.
func (m *MultiDexFile) byName(name string) *dex.File {
	for _, f := range m.all() {
		if f != nil && f.DexName() == name {
			return f
		}
	}
	return nil
}

// FileByName looks up one DEX file in the group by its DexName() label,
// for callers outside this package resolving a cached DEX reference
// (e.g. search.ResolveDexFile) back to a live *dex.File.
func (m *MultiDexFile) FileByName(name string) *dex.File {
	return m.byName(name)
}

// DexEntry pairs an item with the DEX file that declares it, the shape
// every iteration helper below yields.
type DexEntry[T any] struct {
	Dex   *dex.File
	Item  T
	Index uint32 // the item's index within Dex, where applicable
}

// Classes iterates every class declared across every DEX in the group.
func (m *MultiDexFile) Classes() []DexEntry[*dex.ClassDef] {
	var out []DexEntry[*dex.ClassDef]
	for _, f := range m.all() {
		for i := range f.Classes {
			out = append(out, DexEntry[*dex.ClassDef]{Dex: f, Item: &f.Classes[i], Index: uint32(i)})
		}
	}
	return out
}

// Methods iterates every method_id across every DEX in the group.
func (m *MultiDexFile) Methods() []DexEntry[*dex.MethodID] {
	var out []DexEntry[*dex.MethodID]
	for _, f := range m.all() {
		for i := range f.Methods {
			out = append(out, DexEntry[*dex.MethodID]{Dex: f, Item: &f.Methods[i], Index: uint32(i)})
		}
	}
	return out
}

// Strings iterates every decoded string across every DEX in the group.
func (m *MultiDexFile) Strings() []DexEntry[string] {
	var out []DexEntry[string]
	for _, f := range m.all() {
		for i, s := range f.Strings {
			out = append(out, DexEntry[string]{Dex: f, Item: s, Index: uint32(i)})
		}
	}
	return out
}

// Types iterates every type_id across every DEX in the group.
func (m *MultiDexFile) Types() []DexEntry[*dex.TypeID] {
	var out []DexEntry[*dex.TypeID]
	for _, f := range m.all() {
		for i := range f.Types {
			out = append(out, DexEntry[*dex.TypeID]{Dex: f, Item: &f.Types[i], Index: uint32(i)})
		}
	}
	return out
}

// Protos iterates every proto_id across every DEX in the group.
func (m *MultiDexFile) Protos() []DexEntry[*dex.ProtoID] {
	var out []DexEntry[*dex.ProtoID]
	for _, f := range m.all() {
		for i := range f.Protos {
			out = append(out, DexEntry[*dex.ProtoID]{Dex: f, Item: &f.Protos[i], Index: uint32(i)})
		}
	}
	return out
}

// Fields iterates every field_id across every DEX in the group.
func (m *MultiDexFile) Fields() []DexEntry[*dex.FieldID] {
	var out []DexEntry[*dex.FieldID]
	for _, f := range m.all() {
		for i := range f.Fields {
			out = append(out, DexEntry[*dex.FieldID]{Dex: f, Item: &f.Fields[i], Index: uint32(i)})
		}
	}
	return out
}

// LoadClass resolves a class by descriptor across the whole group,
// consulting the cache first. On a cache miss it scans every DEX for a
// class_def whose descriptor matches and which owns a populated
// ClassData (class_data_item), caching the owning DEX's name on
// success. The cache never holds two different owners for the same
// name at once: a concurrent second resolution blocks on the write
// lock and then observes the cached value.
func (m *MultiDexFile) LoadClass(name string) (*dex.File, *dex.ClassDef, error) {
	m.mu.RLock()
	if owner, ok := m.loadedClasses[name]; ok {
		m.mu.RUnlock()
		f := m.byName(owner)
		if f == nil {
			return nil, nil, fmt.Errorf("multidex: cached owner %q for class %q no longer present", owner, name)
		}
		return f, f.ClassByName(name), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check under the write lock: another writer may have resolved
	// this name while we waited.
	if owner, ok := m.loadedClasses[name]; ok {
		f := m.byName(owner)
		if f == nil {
			return nil, nil, fmt.Errorf("multidex: cached owner %q for class %q no longer present", owner, name)
		}
		return f, f.ClassByName(name), nil
	}

	for _, f := range m.all() {
		cd := f.ClassByName(name)
		if cd != nil && cd.Data != nil {
			if m.loadedClasses == nil {
				m.loadedClasses = make(map[string]string)
			}
			m.loadedClasses[name] = f.DexName()
			return f, cd, nil
		}
	}
	trace.Fine(fmt.Sprintf("multidex: class %q not found with a populated class_data_item in any DEX of the group", name))
	return nil, nil, fmt.Errorf("multidex: class %q not found", name)
}

// GetClassForMethod resolves the class declaring a method, preferring
// the DEX it was looked up in; if that DEX only carries the class_def
// marker without a class_data_item, it falls back to LoadClass so that
// cross-DEX polymorphism (declared in one DEX, implemented in another)
// is honored.
func (m *MultiDexFile) GetClassForMethod(f *dex.File, methodIdx uint32) (*dex.File, *dex.ClassDef, error) {
	if int(methodIdx) >= len(f.Methods) {
		return nil, nil, fmt.Errorf("multidex: method index %d out of range", methodIdx)
	}
	mid := f.Methods[methodIdx]
	desc, err := f.TypeDescriptor(uint32(mid.ClassIdx))
	if err != nil {
		return nil, nil, err
	}
	if cd := f.ClassByName(desc); cd != nil && cd.Data != nil {
		return f, cd, nil
	}
	return m.LoadClass(desc)
}
