package helper

import "testing"

func TestIsSupportedArchive(t *testing.T) {
	t.Parallel()

	if !IsSupportedArchive([]byte{0x1f, 0x8b, 0x08, 0x00}) {
		t.Error("gzip magic not detected")
	}
	if !IsSupportedArchive([]byte{0x50, 0x4b, 0x03, 0x04, 0x14}) {
		t.Error("zip magic not detected")
	}
	if IsSupportedArchive([]byte("<?xml version")) {
		t.Error("xml misdetected as archive")
	}
	if IsSupportedArchive(nil) {
		t.Error("empty content misdetected as archive")
	}
}
