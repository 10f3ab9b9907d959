package artifact

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// Content is the payload type a download must contain. Mirrors that fail
// often answer 200 with an HTML error page, so every download is checked
// before it is accepted.
type Content int

const (
	// ContentAny accepts any non-empty payload.
	ContentAny Content = iota
	// ContentArchive requires a gzip or zip payload.
	ContentArchive
	// ContentExecutable requires an ELF, PE or Mach-O payload.
	ContentExecutable
	// ContentText requires a UTF-8 text payload that is not an HTML page.
	ContentText
)

func (c Content) String() string {
	switch c {
	case ContentArchive:
		return "archive"
	case ContentExecutable:
		return "executable"
	case ContentText:
		return "text"
	default:
		return "any"
	}
}

const sniffLen = 512

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZip  = []byte("PK\x03\x04")
	magicELF  = []byte("\x7fELF")
	magicPE   = []byte("MZ")
	magicMach = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce},
		{0xfe, 0xed, 0xfa, 0xcf},
		{0xce, 0xfa, 0xed, 0xfe},
		{0xcf, 0xfa, 0xed, 0xfe},
		{0xca, 0xfe, 0xba, 0xbe},
	}
)

// checkContent validates the head of a payload against want.
func checkContent(head []byte, want Content) error {
	if len(head) == 0 {
		return fmt.Errorf("empty payload")
	}

	switch want {
	case ContentArchive:
		if bytes.HasPrefix(head, magicGzip) || bytes.HasPrefix(head, magicZip) {
			return nil
		}
		return fmt.Errorf("payload is not an archive (%s)", describe(head))
	case ContentExecutable:
		if isExecutable(head) {
			return nil
		}
		return fmt.Errorf("payload is not an executable (%s)", describe(head))
	case ContentText:
		if looksHTML(head) {
			return fmt.Errorf("payload is an HTML page")
		}
		if bytes.IndexByte(head, 0) >= 0 || !validUTF8Prefix(head) {
			return fmt.Errorf("payload is not text (%s)", describe(head))
		}
		return nil
	default:
		return nil
	}
}

// checkFileContent validates the head of the file at path.
func checkFileContent(path string, want Content) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	return checkContent(head[:n], want)
}

func isExecutable(head []byte) bool {
	if bytes.HasPrefix(head, magicELF) || bytes.HasPrefix(head, magicPE) {
		return true
	}
	for _, m := range magicMach {
		if bytes.HasPrefix(head, m) {
			return true
		}
	}
	return false
}

func looksHTML(head []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

// validUTF8Prefix tolerates a rune cut off at the end of the sniffed head.
func validUTF8Prefix(head []byte) bool {
	for i := 0; i < utf8.UTFMax && i < len(head); i++ {
		if utf8.Valid(head[:len(head)-i]) {
			return true
		}
	}
	return false
}

func describe(head []byte) string {
	switch {
	case looksHTML(head):
		return "HTML page"
	case bytes.HasPrefix(head, magicGzip):
		return "gzip"
	case bytes.HasPrefix(head, magicZip):
		return "zip"
	case isExecutable(head):
		return "executable"
	}
	n := len(head)
	if n > 8 {
		n = 8
	}
	return fmt.Sprintf("starts with % x", head[:n])
}
