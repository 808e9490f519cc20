/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package graph

import (
	"testing"

	"dexkit/dex"
	"dexkit/internal/types"
	"dexkit/multidex"
)

// buildGreetGroup builds a one-class, one-method fixture equivalent to:
//
//	class Root { void greet() { "Hi " } }
func buildGreetGroup(t *testing.T) *multidex.MultiDexFile {
	t.Helper()
	insns := []uint16{
		0x1a, // const-string v0, #0
		0,    // string index 0 ("Hi ")
		0x0e, // return-void
	}
	code := &dex.CodeItem{RegistersSize: 1, InsnsSize: uint32(len(insns)), Insns: insns}
	f := &dex.File{
		Strings: []string{"Hi ", "Lcom/example/Root;", "greet"},
		Types:   []dex.TypeID{{DescriptorIdx: 1}},
		Methods: []dex.MethodID{{ClassIdx: 0, ProtoIdx: 0, NameIdx: 2}},
		Protos:  []dex.ProtoID{{ShortyIdx: types.InvalidIndex, ReturnTypeIdx: 0}},
		Classes: []dex.ClassDef{{
			ClassIdx:      0,
			SuperclassIdx: types.InvalidIndex,
			SourceFileIdx: types.InvalidIndex,
			Data: &dex.ClassData{
				DirectMethods: []dex.EncodedMethod{{MethodIdx: 0, Code: code}},
			},
		}},
	}
	return &multidex.MultiDexFile{Primary: f}
}

func TestStaticPhase_LinksMethodToString(t *testing.T) {
	g := New()
	StaticPhase(g, buildGreetGroup(t))

	methodIdx, ok := g.Lookup(MethodNode{MethodKey: "Lcom/example/Root;->greet_"})
	if !ok {
		t.Fatalf("method node not found")
	}
	found := false
	for _, next := range g.Edges(methodIdx) {
		if sn, ok := g.Node(next).(StringNode); ok && sn.Text == "Hi " {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an edge method->StringNode(%q)", "Hi ")
	}
}

func TestStaticPhase_LinksMethodToClass(t *testing.T) {
	g := New()
	StaticPhase(g, buildGreetGroup(t))

	methodIdx, ok := g.Lookup(MethodNode{MethodKey: "Lcom/example/Root;->greet_"})
	if !ok {
		t.Fatalf("method node not found")
	}
	edges := g.Edges(methodIdx)
	foundClass := false
	for _, next := range edges {
		if cn, ok := g.Node(next).(ClassNode); ok && cn.ClassKey == "Lcom/example/Root;" {
			foundClass = true
		}
	}
	if !foundClass {
		t.Fatalf("expected an edge method->ClassNode")
	}
}

func TestChangeSet_DedupsRepeatedNode(t *testing.T) {
	g := New()
	idx1 := ChangeSet{AddNode{ClassNode{ClassKey: "Lfoo;"}}}.Apply(g)[0]
	idx2 := ChangeSet{AddNode{ClassNode{ClassKey: "Lfoo;"}}}.Apply(g)[0]
	if idx1 != idx2 {
		t.Fatalf("expected the same node index for a repeated AddNode, got %d and %d", idx1, idx2)
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
}

func TestCallgraph_ReachesMethodFromClass(t *testing.T) {
	g := New()
	StaticPhase(g, buildGreetGroup(t))

	sub := Callgraph(g, "Lcom/example/Root;")
	foundMethod := false
	for i := 0; i < sub.Graph.Len(); i++ {
		if mn, ok := sub.Graph.Node(NodeIndex(i)).(MethodNode); ok && mn.MethodKey == "Lcom/example/Root;->greet_" {
			foundMethod = true
		}
	}
	if !foundMethod {
		t.Fatalf("expected the greet method node in the class call graph")
	}
}

func TestDynamicPhase_RunsWithoutPanicking(t *testing.T) {
	g := New()
	StaticPhase(g, buildGreetGroup(t))
	DynamicPhase(g, buildGreetGroup(t))
	if g.Len() == 0 {
		t.Fatalf("expected at least the statically-discovered nodes to remain")
	}
}
