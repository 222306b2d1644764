package segment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

func sampleIndex() *index.Index {
	return index.Build([]index.Document{
		{ID: "docs/gl/glBindBuffer.xhtml", Content: "glBindBuffer binds a named buffer object to target"},
		{ID: "docs/gl/glClear.xhtml", Content: "glClear clears buffers to preset values; mask = GL_COLOR_BUFFER_BIT"},
		{ID: "notes/todo.txt", Content: "42 things to do, 7 done"},
		{ID: "notes/empty.txt", Content: ""},
	})
}

func allOptions() map[string]Options {
	return map[string]Options{
		"json":      {Codec: CodecJSON, Compression: CompressionNone},
		"json+zstd": {Codec: CodecJSON, Compression: CompressionZstd},
		"cbor":      {Codec: CodecCBOR, Compression: CompressionNone},
		"cbor+zstd": {Codec: CodecCBOR, Compression: CompressionZstd},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := sampleIndex()
	for name, opts := range allOptions() {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, original, opts); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, header, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if header.Codec != opts.Codec || header.Compression != opts.Compression {
				t.Errorf("header codec/compression = %s/%s", header.Codec, header.Compression)
			}
			if int(header.DocCount) != original.DocCount() || int(header.TermCount) != original.TermCount() {
				t.Errorf("header counts = %d/%d", header.DocCount, header.TermCount)
			}
			if !reflect.DeepEqual(got.Docs, original.Docs) {
				t.Errorf("Docs differ after round trip:\n got %v\nwant %v", got.Docs, original.Docs)
			}
			if !reflect.DeepEqual(got.DF, original.DF) {
				t.Errorf("DF differs after round trip:\n got %v\nwant %v", got.DF, original.DF)
			}
		})
	}
}

func TestEncodeEmptyIndex(t *testing.T) {
	data, err := Marshal(index.Empty(), DefaultOptions)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, _, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.DocCount() != 0 || got.Docs == nil || got.DF == nil {
		t.Errorf("decoded empty index = %+v", got)
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	opts := Options{Codec: CodecCBOR}
	a, err := Marshal(sampleIndex(), opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(sampleIndex(), opts)
	if err != nil {
		t.Fatal(err)
	}
	// CreatedAt may differ between the two calls; compare payloads only.
	if !bytes.Equal(a[HeaderSize:], b[HeaderSize:]) {
		t.Error("CBOR payloads of equal indexes differ")
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := Marshal(sampleIndex(), Options{Codec: CodecJSON, Compression: CompressionZstd})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xff; return b }},
		{"flipped payload byte", func(b []byte) []byte { b[HeaderSize+3] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-3] }},
		{"too short", func(b []byte) []byte { return b[:10] }},
		{"bad version", func(b []byte) []byte { b[4] = 99; return b }},
		{"bad footer", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupt := tt.mutate(append([]byte(nil), data...))
			_, _, err := Unmarshal(corrupt)
			if !errors.Is(err, apperrors.ErrCorruptIndex) {
				t.Errorf("Unmarshal error = %v, want ErrCorruptIndex", err)
			}
		})
	}
}

func TestDecodeRejectsInconsistentTables(t *testing.T) {
	bad := &index.Index{
		Docs: map[string]index.TermFreq{"a": {"X": 1}},
		DF:   index.DocFreq{"X": 3},
	}
	data, err := Marshal(bad, DefaultOptions)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Unmarshal(data); !errors.Is(err, apperrors.ErrCorruptIndex) {
		t.Errorf("Unmarshal error = %v, want ErrCorruptIndex", err)
	}
}

func TestParseOptions(t *testing.T) {
	if c, err := ParseCodec("cbor"); err != nil || c != CodecCBOR {
		t.Errorf("ParseCodec(cbor) = %v, %v", c, err)
	}
	if c, err := ParseCodec(""); err != nil || c != CodecJSON {
		t.Errorf("ParseCodec(\"\") = %v, %v", c, err)
	}
	if _, err := ParseCodec("xml"); err == nil {
		t.Error("ParseCodec(xml) should fail")
	}
	if c, err := ParseCompression("zstd"); err != nil || c != CompressionZstd {
		t.Errorf("ParseCompression(zstd) = %v, %v", c, err)
	}
	if _, err := ParseCompression("lz4"); err == nil {
		t.Error("ParseCompression(lz4) should fail")
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, Options{Codec: CodecCBOR, Compression: CompressionZstd}, 2)

	if ix, err := store.Load(ctx); err != nil || ix != nil {
		t.Fatalf("Load on empty dir = %v, %v; want nil, nil", ix, err)
	}

	first := index.Build([]index.Document{{ID: "a", Content: "first"}})
	second := index.Build([]index.Document{{ID: "b", Content: "second"}})
	third := sampleIndex()
	for _, ix := range []*index.Index{first, second, third} {
		if err := store.Save(ctx, ix); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	names, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("retained %d snapshots, want 2: %v", len(names), names)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Docs, third.Docs) {
		t.Errorf("Load returned %v, want newest snapshot", got.DocIDs())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestFileStoreLoadSkipsCorruptNewest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, DefaultOptions, 0)

	good := index.Build([]index.Document{{ID: "good", Content: "fine"}})
	if err := store.Save(ctx, good); err != nil {
		t.Fatal(err)
	}
	junk := filepath.Join(dir, filePrefix+"99999999999999999999"+fileSuffix)
	if err := os.WriteFile(junk, []byte("not a snapshot"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.DocCount() != 1 || got.Docs["good"] == nil {
		t.Errorf("Load = %v, want the older valid snapshot", got)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, _, err := ReadFile(filepath.Join(t.TempDir(), "nope.spdx")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want not-exist", err)
	}
}

func TestEncodeRejectsNonUTF8IDs(t *testing.T) {
	ix := index.Build([]index.Document{
		{ID: "dir/caf\xe9.txt", Content: "latin one"},
		{ID: "dir/caf\xff.txt", Content: "latin two"},
	})
	for name, opts := range allOptions() {
		t.Run(name, func(t *testing.T) {
			_, err := Marshal(ix, opts)
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("Marshal error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEncodeKeepsUnicodeIDs(t *testing.T) {
	ix := index.Build([]index.Document{
		{ID: "dir/café.txt", Content: "accent"},
		{ID: "dir/cafe\u0301.txt", Content: "combining accent"},
		{ID: "日本/文書.md", Content: "漢字 text"},
	})
	for name, opts := range allOptions() {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(ix, opts)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, _, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got.Docs, ix.Docs) || !reflect.DeepEqual(got.DF, ix.DF) {
				t.Errorf("round trip changed the index: got %v", got.DocIDs())
			}
		})
	}
}

func TestFileStoreWriteRemovesTempOnRenameFailure(t *testing.T) {
	dir := t.TempDir()
	rename = func(string, string) error { return os.ErrPermission }
	t.Cleanup(func() { rename = os.Rename })

	store := NewFileStore(dir, DefaultOptions, 0)
	if _, err := store.Write(sampleIndex()); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("Write error = %v, want permission error", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("files left behind: %v", entries)
	}
}
