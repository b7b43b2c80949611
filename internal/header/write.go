package header

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// Write renders f as a header. Parsing the output yields the same defines.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)

	if f.PragmaOnce {
		fmt.Fprintln(bw, "#pragma once")
		fmt.Fprintln(bw)
	}
	if f.Guard != "" {
		fmt.Fprintf(bw, "#ifndef %s\n#define %s\n\n", f.Guard, f.Guard)
	}

	for i, d := range f.Defines {
		if i > 0 && len(d.Comment) > 0 {
			fmt.Fprintln(bw)
		}
		for _, c := range d.Comment {
			if c == "" {
				fmt.Fprintln(bw, "//")
				continue
			}
			fmt.Fprintf(bw, "// %s\n", c)
		}
		if lit := d.Literal(); lit != "" {
			fmt.Fprintf(bw, "#define %s %s\n", d.Name, lit)
		} else {
			fmt.Fprintf(bw, "#define %s\n", d.Name)
		}
	}

	if f.Guard != "" {
		fmt.Fprintf(bw, "\n#endif // %s\n", f.Guard)
	}
	return bw.Flush()
}

// Bytes is Write into a buffer.
func Bytes(f *File) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, f)
	return buf.Bytes()
}

// WriteFile replaces path with the rendered header. The file is written to a
// temporary sibling, synced and renamed, so readers never see a partial
// header.
func WriteFile(path string, f *File) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending header file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := Write(pending, f); err != nil {
		return fmt.Errorf("write header data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReadFile parses the header at path.
func ReadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
