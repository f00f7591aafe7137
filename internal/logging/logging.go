package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
)

// ComponentKey is the field rendered as the [Component] prefix
const ComponentKey = "component"

var (
	mu     sync.RWMutex
	logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		FieldsOrder:     []string{ComponentKey},
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Options configures the process logger
type Options struct {
	Level    string // logrus level name, info when empty or invalid
	LogDir   string // when set, output is also appended to a daily file
	Terminal bool
}

// Init replaces the process logger. Returns the log file, if any, so the caller can close it.
func Init(opts Options) (*os.File, error) {
	l := newLogger()

	writers := make([]io.Writer, 0, 2)
	var file *os.File
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, err
		}
		name := filepath.Join(opts.LogDir, time.Now().Format("2006-01-02.log"))
		f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		file = f
		writers = append(writers, f)
	}
	if opts.Terminal || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	l.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(writers...)))

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	mu.Lock()
	logger = l
	mu.Unlock()
	return file, nil
}

// Logger returns the process logger
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// For returns an entry tagged with a component name, e.g. For("TileServer")
func For(component string) *logrus.Entry {
	return Logger().WithField(ComponentKey, component)
}
