package protocol

import "testing"

func TestDecoderBasicLine(t *testing.T) {
	d := NewDecoder(80, 8)
	lines, err := d.Feed([]byte("look\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0] != "look" {
		t.Fatalf("got %v", lines)
	}
}

func TestDecoderStripsIAC(t *testing.T) {
	d := NewDecoder(80, 8)
	lines, err := d.Feed([]byte{0xFF, 0xFB, 0x01, 'h', 'i', '\n'})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0] != "hi" {
		t.Fatalf("got %v", lines)
	}
}

func TestDecoderMaxLineLenBoundary(t *testing.T) {
	d := NewDecoder(5, 8)
	_, err := d.Feed([]byte("12345\n"))
	if err != nil {
		t.Fatalf("exactly maxLineLen should be accepted, got %v", err)
	}
}

func TestDecoderOverMaxLineLen(t *testing.T) {
	d := NewDecoder(5, 8)
	_, err := d.Feed([]byte("123456\n"))
	if err == nil {
		t.Fatalf("expected violation for line exceeding max length")
	}
}

func TestDecoderNonPrintableBoundary(t *testing.T) {
	d := NewDecoder(80, 2)
	_, err := d.Feed([]byte{0x01, 0x02, 'a', '\n'})
	if err != nil {
		t.Fatalf("exactly maxNonPrintablePerLine should be accepted, got %v", err)
	}
}

func TestDecoderNonPrintableOverLimit(t *testing.T) {
	d := NewDecoder(80, 2)
	_, err := d.Feed([]byte{0x01, 0x02, 0x03, 'a', '\n'})
	if err == nil {
		t.Fatalf("expected violation for non-printable flood")
	}
}

func TestSplitFramedEmptyFrame(t *testing.T) {
	lines, err := SplitFramed("", 80, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0] != "" {
		t.Fatalf("got %v", lines)
	}
}

func TestSplitFramedMultipleLines(t *testing.T) {
	lines, err := SplitFramed("look\r\nnorth\n", 80, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 3 || lines[0] != "look" || lines[1] != "north" || lines[2] != "" {
		t.Fatalf("got %v", lines)
	}
}
