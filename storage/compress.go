package storage

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type compression int

const (
	compressNone compression = iota
	compressGzip
	compressZstd
	compressBrotli
	compressLz4
)

// TODO: could sniff file content instead of checking file extension
func compressionFor(path string) compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return compressGzip
	case ".zst", ".zstd":
		return compressZstd
	case ".br":
		return compressBrotli
	case ".lz4":
		return compressLz4
	}
	return compressNone
}

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func compressData(c compression, d []byte) ([]byte, error) {
	var dst bytes.Buffer
	var w io.WriteCloser
	var err error
	switch c {
	case compressNone:
		return d, nil
	case compressGzip:
		w, err = gzip.NewWriterLevel(&dst, gzip.BestCompression)
	case compressZstd:
		// zstd.SpeedBestCompression is much slower and not much better
		w, err = zstd.NewWriter(&dst, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	case compressBrotli:
		w = brotli.NewWriterLevel(&dst, brotli.DefaultCompression)
	case compressLz4:
		w = lz4.NewWriter(&dst)
	}
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func decompressData(c compression, d []byte) ([]byte, error) {
	r := bytes.NewReader(d)
	switch c {
	case compressGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case compressZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case compressBrotli:
		return io.ReadAll(brotli.NewReader(r))
	case compressLz4:
		return io.ReadAll(lz4.NewReader(r))
	}
	return d, nil
}
