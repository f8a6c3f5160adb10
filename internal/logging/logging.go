// Package logging builds the process logger: stderr, plus a rotating file
// when one is configured.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Quiet      bool // drop the stderr copy
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup returns a logger for opts and also installs it as the default
// log output. Close flushes the rotating file.
func Setup(opts Options) (*log.Logger, io.Closer, error) {
	var outputs []io.Writer
	if !opts.Quiet {
		outputs = append(outputs, os.Stderr)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		}
		outputs = append(outputs, lj)
		closer = lj
	}
	if len(outputs) == 0 {
		outputs = append(outputs, io.Discard)
	}

	w := io.MultiWriter(outputs...)
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags)
	return log.New(w, "", log.LstdFlags), closer, nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
