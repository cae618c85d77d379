package helper

import "bytes"

// https://en.wikipedia.org/wiki/List_of_file_signatures
var archiveMagic = [][]byte{
	{0x1f, 0x8b},             // gzip
	{0x50, 0x4b, 0x03, 0x04}, // zip
	{0x50, 0x4b, 0x05, 0x06}, // zip (empty archive)
	{0x50, 0x4b, 0x07, 0x08}, // zip (spanned archive)
}

// IsSupportedArchive sniffs the magic bytes of content for the archive
// formats DMARC reports are shipped in. Used for inline mail parts
// where no content type or filename hints at an attachment.
func IsSupportedArchive(content []byte) bool {
	for _, magic := range archiveMagic {
		if bytes.HasPrefix(content, magic) {
			return true
		}
	}
	return false
}
