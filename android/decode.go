/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package android

import (
	"strconv"

	"dexkit/internal/trace"
)

const (
	typeString      = 0x03
	typeIntDec      = 0x10
	typeIntHex      = 0x11
	typeIntBoolean  = 0x12
	typeReference   = 0x01
)

// DecodeManifest maps a binary AndroidManifest.xml into the strongly
// typed content model. prelude and arsc are accepted per the interface
// this toolkit exposes around AXML/ARSC decoding (out of scope as a
// decoder in their own right -- see DESIGN.md) but are not consulted:
// resource-id-only attribute values (no string-table entry) degrade to
// their raw numeric form rather than a resolved resource string.
//
// A failed decode is never fatal: it logs a warning and returns the
// zero-value AndroidManifest.
func DecodeManifest(axml, arsc, prelude []byte) (AndroidManifest, error) {
	events, err := parseAXML(axml)
	if err != nil {
		trace.Warning("android: manifest decode failed, returning empty manifest: " + err.Error())
		return AndroidManifest{}, nil
	}
	return buildManifest(events), nil
}

// element is one node of the shallow tree built from the flattened
// tag-start/tag-end event stream while decoding.
type element struct {
	name     string
	attrs    map[string]string
	children []*element
}

func buildManifest(events []axmlEvent) AndroidManifest {
	var root *element
	stack := []*element{}
	for _, ev := range events {
		switch ev.kind {
		case chunkXMLTagStart:
			e := &element{name: ev.name, attrs: attrMap(ev.attrs)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, e)
			} else {
				root = e
			}
			stack = append(stack, e)
		case chunkXMLTagEnd:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if root == nil || root.name != "manifest" {
		trace.Warning("android: manifest decode found no top-level <manifest> element")
		return AndroidManifest{}
	}
	return manifestFromElement(root)
}

func attrMap(attrs []axmlAttr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name] = resolveValue(a)
	}
	return m
}

func resolveValue(a axmlAttr) string {
	if a.ValueType == typeString && a.RawValue != "" {
		return a.RawValue
	}
	switch a.ValueType {
	case typeIntBoolean:
		if a.ValueData != 0 {
			return "true"
		}
		return "false"
	case typeIntDec, typeIntHex, typeReference:
		return strconv.FormatUint(uint64(a.ValueData), 10)
	default:
		if a.RawValue != "" {
			return a.RawValue
		}
		return strconv.FormatUint(uint64(a.ValueData), 10)
	}
}

func manifestFromElement(root *element) AndroidManifest {
	m := AndroidManifest{
		Package: root.attrs["package"],
	}
	if vc, err := strconv.ParseInt(root.attrs["versionCode"], 10, 64); err == nil {
		m.VersionCode = vc
	}
	m.VersionName = root.attrs["versionName"]

	for _, child := range root.children {
		switch child.name {
		case "uses-permission", "uses-permission-sdk-23":
			maxSdk, _ := strconv.Atoi(child.attrs["maxSdkVersion"])
			m.Content = append(m.Content, Permission{
				Name:      child.attrs["name"],
				MaxSdkVer: maxSdk,
			})
		case "uses-feature":
			required := child.attrs["required"] != "false"
			m.Content = append(m.Content, Feature{
				Name:     child.attrs["name"],
				Required: required,
			})
		case "uses-sdk":
			min, _ := strconv.Atoi(child.attrs["minSdkVersion"])
			target, _ := strconv.Atoi(child.attrs["targetSdkVersion"])
			max, _ := strconv.Atoi(child.attrs["maxSdkVersion"])
			m.Content = append(m.Content, SDKRange{
				MinSdkVersion:    min,
				TargetSdkVersion: target,
				MaxSdkVersion:    max,
			})
		case "application":
			m.Content = append(m.Content, applicationFromElement(child))
		case "queries":
			m.Content = append(m.Content, queriesFromElement(child))
		default:
			m.Content = append(m.Content, Unknown{Tag: child.name, Attrs: child.attrs})
		}
	}
	return m
}

func applicationFromElement(e *element) Application {
	app := Application{
		Name:       e.attrs["name"],
		Debuggable: e.attrs["debuggable"] == "true",
	}
	for _, child := range e.children {
		switch child.name {
		case "activity":
			app.Activities = append(app.Activities, Activity{
				Name:     child.attrs["name"],
				Exported: child.attrs["exported"] == "true",
				Enabled:  child.attrs["enabled"] != "false",
			})
		case "activity-alias":
			app.ActivityAliases = append(app.ActivityAliases, ActivityAlias{
				Name:       child.attrs["name"],
				TargetName: child.attrs["targetActivity"],
				Exported:   child.attrs["exported"] == "true",
			})
		}
	}
	return app
}

func queriesFromElement(e *element) Queries {
	var q Queries
	for _, child := range e.children {
		if child.name == "package" {
			q.Packages = append(q.Packages, child.attrs["name"])
		}
	}
	return q
}
