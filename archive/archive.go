/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package archive loads an APK (or any ZIP container holding one) into
// the multi-DEX, manifest, and raw-binary aggregate the rest of this
// toolkit queries.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/klauspost/compress/flate"

	"dexkit/android"
	"dexkit/dex"
	"dexkit/internal/trace"
	"dexkit/multidex"
)

const (
	manifestName = "AndroidManifest.xml"
	arscName     = "resources.arsc"
)

var classesDexName = regexp.MustCompile(`^classes(\d*)\.dex$`)

// Open reads a ZIP archive (an APK, or anything that nests one), and
// recursively extracts nested ZIPs up to maxDepth (0 means unbounded),
// returning one MultiDexFile per ZIP level that contains DEX files plus
// every other file kept as a raw binary blob.
func Open(r io.ReaderAt, size int64, maxDepth int) (*multidex.Files, error) {
	files := &multidex.Files{Binaries: map[string][]byte{}}
	if err := extractLevel(r, size, "", 0, maxDepth, files); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return files, nil
}

func extractLevel(r io.ReaderAt, size int64, pathPrefix string, depth, maxDepth int, files *multidex.Files) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("opening zip at %q: %w", pathPrefix, err)
	}
	// klauspost/compress's flate is a drop-in faster decompressor than
	// the standard library's for the large, heavily deflated archives
	// a stacked APK/AAB can nest.
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	dexBytes := map[string][]byte{}
	var manifestXML, arscBytes []byte

	for _, zf := range zr.File {
		data, err := readZipFile(zf)
		if err != nil {
			trace.Warning(fmt.Sprintf("archive: dropping unreadable entry %q: %v", zf.Name, err))
			continue
		}

		switch {
		case zf.Name == manifestName:
			manifestXML = data
		case zf.Name == arscName:
			arscBytes = data
		case classesDexName.MatchString(zf.Name) && sniffDex(data):
			dexBytes[zf.Name] = data
		case sniffZip(data):
			if maxDepth != 0 && depth+1 >= maxDepth {
				trace.Warning(fmt.Sprintf("archive: max depth reached, keeping %q as a raw binary", zf.Name))
				files.Binaries[pathPrefix+zf.Name] = data
				continue
			}
			if err := extractLevel(byteReaderAt(data), int64(len(data)), pathPrefix+zf.Name+"!/", depth+1, maxDepth, files); err != nil {
				trace.Warning(fmt.Sprintf("archive: dropping malformed nested archive %q: %v", zf.Name, err))
			}
		default:
			files.Binaries[pathPrefix+zf.Name] = data
		}
	}

	if len(dexBytes) > 0 {
		group := buildGroup(dexBytes, manifestXML, arscBytes)
		files.MultiDex = append(files.MultiDex, group)
	}
	return nil
}

// buildGroup parses every classes*.dex entry found at one ZIP level
// into a MultiDexFile, classes.dex as primary and classesN.dex ordered
// by N as secondary, per spec's MultiDexFile shape. A DEX that fails to
// parse is dropped with a warning; loading of the rest continues.
func buildGroup(dexBytes map[string][]byte, manifestXML, arscBytes []byte) *multidex.MultiDexFile {
	names := make([]string, 0, len(dexBytes))
	for name := range dexBytes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return dexOrderKey(names[i]) < dexOrderKey(names[j]) })

	group := &multidex.MultiDexFile{ManifestXML: manifestXML}
	for _, name := range names {
		f, err := dex.Parse(dexBytes[name])
		if err != nil {
			trace.Warning(fmt.Sprintf("archive: dropping malformed %q: %v", name, err))
			continue
		}
		if group.Primary == nil {
			group.Primary = f
		} else {
			group.Secondary = append(group.Secondary, f)
		}
	}
	if group.Primary == nil && len(group.Secondary) > 0 {
		group.Primary, group.Secondary = group.Secondary[0], group.Secondary[1:]
	}

	if manifestXML != nil {
		m, _ := android.DecodeManifest(manifestXML, arscBytes, nil)
		group.AndroidManifest = m
	}
	return group
}

// dexOrderKey sorts "classes.dex" before "classes2.dex" before
// "classes10.dex" (numeric, not lexicographic).
func dexOrderKey(name string) int {
	m := classesDexName.FindStringSubmatch(name)
	if m == nil || m[1] == "" {
		return 1
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	return n
}

func sniffDex(b []byte) bool {
	return len(b) >= 3 && b[0] == 'd' && b[1] == 'e' && b[2] == 'x'
}

func sniffZip(b []byte) bool {
	return len(b) >= 2 && b[0] == 'P' && b[1] == 'K'
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// byteReaderAt adapts a byte slice to io.ReaderAt for recursive
// zip.NewReader calls over an in-memory nested archive.
type byteReaderAtType []byte

func (b byteReaderAtType) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func byteReaderAt(b []byte) io.ReaderAt { return byteReaderAtType(b) }
