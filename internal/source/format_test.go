/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRawFormatReadRefBuf(t *testing.T) {
	f := NewRawFormat(4)
	r := strings.NewReader("abcdefgh")

	rb, err := f.ReadRefBuf(r)
	if err != nil {
		t.Fatalf("ReadRefBuf: %v", err)
	}
	if string(rb.Data) != "abcd" {
		t.Fatalf("Data = %q, want abcd", rb.Data)
	}
}

func TestRawFormatReadRefBufEOF(t *testing.T) {
	f := NewRawFormat(4)
	r := strings.NewReader("")
	rb, err := f.ReadRefBuf(r)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if rb != nil {
		t.Fatalf("rb should be nil on immediate EOF")
	}
}

func TestRawFormatWriteToClientAdvancesNode(t *testing.T) {
	f := NewRawFormat(4)
	l := NewListener(1, "/live")

	rb, _ := f.ReadRefBuf(strings.NewReader("hello")) // readChunk=4, so rb.Data = "hell"
	var buf bytes.Buffer
	node, off, n, err := f.WriteToClient(&buf, l, rb, 0)
	if err != nil {
		t.Fatalf("WriteToClient: %v", err)
	}
	if n != len(rb.Data) {
		t.Fatalf("n = %d, want %d", n, len(rb.Data))
	}
	if node != rb.Next() {
		t.Fatalf("fully-written node should advance to Next()")
	}
	if off != 0 {
		t.Fatalf("off after full write should reset to 0, got %d", off)
	}
	if buf.String() != "hell" {
		t.Fatalf("buf = %q, want hell", buf.String())
	}
}

func TestRawFormatWriteToClientNilNode(t *testing.T) {
	f := NewRawFormat(4)
	l := NewListener(1, "/live")
	node, off, n, err := f.WriteToClient(&bytes.Buffer{}, l, nil, 0)
	if node != nil || off != 0 || n != 0 || err != nil {
		t.Fatalf("nil node should be a no-op, got %v,%d,%d,%v", node, off, n, err)
	}
}
