package klog

import (
	"crypto/rand"
	"io"
)

func newMultiWriter(w ...io.Writer) io.Writer {
	return io.MultiWriter(w...)
}

func cryptoRandRead(b []byte) (int, error) {
	return rand.Read(b)
}
