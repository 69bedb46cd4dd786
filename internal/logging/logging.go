// Package logging tees the standard logger into a rotating file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
)

// rotateLogWriter forwards log lines to the rotating file.
type rotateLogWriter struct {
	RotateLogs *rotatelogs.RotateLogs
}

func (w rotateLogWriter) Write(data []byte) (int, error) {
	return w.RotateLogs.Write(data)
}

// Options configures the log file.
type Options struct {
	Dir     string
	Name    string
	Verbose bool
	// Console receives a copy of every line; nil means os.Stderr.
	Console io.Writer
}

// Closer restores the previous log output and closes the file.
type Closer struct {
	rl   *rotatelogs.RotateLogs
	prev io.Writer
}

func (c *Closer) Close() error {
	log.SetOutput(c.prev)
	return c.rl.Close()
}

// Setup sends the standard logger to the console and to
// <Dir>/<Name>-YYYYMMDD.log, with <Dir>/<Name>.log linking to the current file.
func Setup(opts Options) (*Closer, error) {
	if opts.Name == "" {
		opts.Name = "train"
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	rl, err := rotatelogs.New(
		filepath.Join(opts.Dir, opts.Name+"-%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(opts.Dir, opts.Name+".log")),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rotate logs")
	}
	if opts.Verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
	c := &Closer{rl: rl, prev: log.Writer()}
	log.SetOutput(io.MultiWriter(opts.Console, rotateLogWriter{RotateLogs: rl}))
	return c, nil
}
