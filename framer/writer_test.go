// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framer_test

import (
	"bytes"
	"errors"
	"testing"

	fr "code.hybscloud.com/mesh/framer"
)

func TestWriter_NilWriter_ReturnsInvalidArgument(t *testing.T) {
	w := fr.NewWriter(nil)
	if _, err := w.WriteFrame([]byte("x")); !errors.Is(err, fr.ErrInvalidArgument) {
		t.Fatalf("err=%v want ErrInvalidArgument", err)
	}
}

func TestWriter_RoundTripsThroughDecoder(t *testing.T) {
	var buf bytes.Buffer
	w := fr.NewWriter(&buf)
	msgs := [][]byte{[]byte("hello"), bytes.Repeat([]byte("B"), 300), {}}
	for _, m := range msgs {
		n, err := w.WriteFrame(m)
		if err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		if n != len(m) {
			t.Fatalf("n=%d want=%d", n, len(m))
		}
	}

	d := fr.NewDecoder()
	var got [][]byte
	if err := d.Feed(buf.Bytes(), func(p []byte) error {
		got = append(got, append([]byte(nil), p...))
		return nil
	}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d frames, want %d", len(got), len(msgs))
	}
	for i := range msgs {
		if !bytes.Equal(got[i], msgs[i]) {
			t.Fatalf("frame[%d]=%q want=%q", i, got[i], msgs[i])
		}
	}
}

// shortWriter accepts at most maxPerCall bytes per Write call, to exercise
// WriteFrame's short-write retry loop.
type shortWriter struct {
	buf         bytes.Buffer
	maxPerCall  int
	writeCalled int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.writeCalled++
	if len(p) > w.maxPerCall {
		p = p[:w.maxPerCall]
	}
	return w.buf.Write(p)
}

func TestWriter_ShortWrites_Retried(t *testing.T) {
	sw := &shortWriter{maxPerCall: 3}
	w := fr.NewWriter(sw)
	payload := []byte("hello world")
	if _, err := w.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if sw.writeCalled < 2 {
		t.Fatalf("expected multiple Write calls, got %d", sw.writeCalled)
	}

	d := fr.NewDecoder()
	var got []byte
	if err := d.Feed(sw.buf.Bytes(), func(p []byte) error {
		got = append([]byte(nil), p...)
		return nil
	}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got=%q want=%q", got, payload)
	}
}

// wouldBlockWriter fails the first attempt per Write call with ErrWouldBlock
// before succeeding, to exercise the nonblock/retry options.
type wouldBlockWriter struct {
	buf       bytes.Buffer
	blockOnce bool
}

func (w *wouldBlockWriter) Write(p []byte) (int, error) {
	if !w.blockOnce {
		w.blockOnce = true
		return 0, fr.ErrWouldBlock
	}
	w.blockOnce = false
	return w.buf.Write(p)
}

func TestWriter_Nonblock_PropagatesErrWouldBlock(t *testing.T) {
	wb := &wouldBlockWriter{}
	w := fr.NewWriter(wb, fr.WithNonblock())
	_, err := w.WriteFrame([]byte("x"))
	if !errors.Is(err, fr.ErrWouldBlock) {
		t.Fatalf("err=%v want ErrWouldBlock", err)
	}
}

func TestWriter_Block_RetriesUntilWritten(t *testing.T) {
	wb := &wouldBlockWriter{}
	w := fr.NewWriter(wb, fr.WithBlock())
	if _, err := w.WriteFrame([]byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}
