package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/kernel"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if errOut.Len() > 0 {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

func TestFormatsCommand(t *testing.T) {
	out, err := run(t, "formats")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	for _, want := range []string{"CMPR", "C14X2", "ReservedB"} {
		if !strings.Contains(out, want) {
			t.Errorf("formats output lacks %q:\n%s", want, out)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{"rgb565", 0x4, false},
		{"CMPR", 0xE, false},
		{"0x9", 0x9, false},
		{"3", 0x3, false},
		{"16", 0, true},
		{"DXT1", 0, true},
	}
	for _, tt := range tests {
		got, err := parseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && uint8(got) != tt.want {
			t.Errorf("parseFormat(%q) = %#x, want %#x", tt.in, uint8(got), tt.want)
		}
	}
}

func TestDecodeCommand(t *testing.T) {
	dir := t.TempDir()
	tex := filepath.Join(dir, "tex.bin")
	pal := filepath.Join(dir, "pal.bin")
	if err := os.WriteFile(tex, bytes.Repeat([]byte{0x11}, 32*32/2), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pal, []byte{0, 0, 0xF8, 0x00}, 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--backend", "software", "decode", "-f", "C4", "-W", "32", "-H", "32",
		"--palette", pal, "-o", filepath.Join(dir, "out"), "--dump-format", "bmp", tex)
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	path := strings.TrimSpace(out)
	if filepath.Ext(path) != ".bmp" {
		t.Errorf("decode wrote %q, want a .bmp file", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("dump missing: %v", err)
	}

	if _, err := run(t, "--backend", "software", "decode", "-f", "C4", "-W", "32", "-H", "32", tex); err == nil {
		t.Error("paletted decode without --palette succeeded")
	}
	if _, err := run(t, "--backend", "software", "decode", "-f", "RGBA8", "-W", "64", "-H", "64", tex); err == nil {
		t.Error("decode of a short file succeeded")
	}
}

func TestKernelsWarmAndList(t *testing.T) {
	for _, backend := range []string{kernel.StoreFile, kernel.StoreLevelDB} {
		t.Run(backend, func(t *testing.T) {
			store := filepath.Join(t.TempDir(), "kernels")
			out, err := run(t, "--backend", "software", "kernels", "warm", "--store-backend", backend, "--store", store, "-j", "4")
			if err != nil {
				t.Fatalf("warm: %v\n%s", err, out)
			}
			total := len(kernel.AllKeys())
			if !strings.Contains(out, "0 from store") {
				t.Errorf("first warm output = %q", out)
			}

			out, err = run(t, "--backend", "software", "kernels", "warm", "--store-backend", backend, "--store", store)
			if err != nil {
				t.Fatalf("second warm: %v", err)
			}
			if !strings.Contains(out, "0 compiled") {
				t.Errorf("second warm recompiled kernels: %q", out)
			}

			out, err = run(t, "kernels", "list", "--store-backend", backend, "--store", store)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if !strings.Contains(out, "C4/RGB565") {
				t.Errorf("list output lacks C4/RGB565:\n%s", out)
			}
			if want := fmt.Sprintf("%d records", total); !strings.Contains(out, want) {
				t.Errorf("list output lacks %q:\n%s", want, out)
			}
		})
	}
}

func TestKernelsListLeavesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernels.bin")
	if _, err := run(t, "kernels", "list", "--store", path); err == nil {
		t.Error("list of a missing store: error = nil, want error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("list created the store: %v", err)
	}

	s, err := kernel.OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}
	_ = s.Append(kernel.DecodeKey(format.I8, 0), []byte("i8"))
	_ = s.Append(kernel.DecodeKey(format.RGB565, 0), []byte("rgb565"))
	_ = s.Close()
	info, _ := os.Stat(path)
	torn := info.Size() - 2
	if err := os.Truncate(path, torn); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}

	out, err := run(t, "kernels", "list", "--store", path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "1 records") {
		t.Errorf("list output = %q, want 1 records", out)
	}
	if info, _ := os.Stat(path); info.Size() != torn {
		t.Errorf("store size after list = %d, want %d", info.Size(), torn)
	}
}
