package server

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/Pablu23/tftp/internal/common"
)

func TestWireErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want common.ErrorCode
	}{
		{"not exist", fs.ErrNotExist, common.ErrCodeFileNotFound},
		{"wrapped not exist", &os.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, common.ErrCodeFileNotFound},
		{"permission", fs.ErrPermission, common.ErrCodeAccessViolation},
		{"exists", fs.ErrExist, common.ErrCodeFileAlreadyExists},
		{"no space", &os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, common.ErrCodeDiskFull},
		{"unknown", errors.New("boom"), common.ErrCodeNotDefined},
		{"passthrough", common.New(common.ErrCodeNoSuchUser, "who"), common.ErrCodeNoSuchUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wireError(tt.err); got.Code != tt.want {
				t.Errorf("wireError(%v).Code = %v, want %v", tt.err, got.Code, tt.want)
			}
		})
	}
}

func TestDirStoreRoundTrip(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if store.Exists("f.bin") {
		t.Fatal("file exists before creation")
	}

	w, err := store.Create("f.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if !store.Exists("f.bin") {
		t.Fatal("file missing after creation")
	}

	r, err := store.Open("f.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("read back %q", got)
	}

	if err := store.Remove("f.bin"); err != nil {
		t.Fatal(err)
	}
	if store.Exists("f.bin") {
		t.Error("file survived removal")
	}
}

func TestDirStoreMissingFile(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.Open("missing.bin")
	if err == nil {
		t.Fatal("expected error")
	}
	if wireError(err).Code != common.ErrCodeFileNotFound {
		t.Errorf("missing file maps to %v, want FileNotFound", wireError(err).Code)
	}
}

func TestDirStoreEmptyName(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Open(""); !errors.Is(err, common.ErrInvalidFilename) {
		t.Errorf("got %v, want ErrInvalidFilename", err)
	}
}
