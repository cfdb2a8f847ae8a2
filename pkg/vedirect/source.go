package vedirect

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

const (
	DEFAULT_BAUD_RATE       = 19200
	DEFAULT_MAX_LINE_LENGTH = 200
	DEFAULT_LINE_QUEUE_SIZE = 1024
	CHECKSUM_FIELD          = "Checksum"
)

// LineSource yields raw protocol lines of one input. Drain never blocks: it
// returns the lines received since the previous call. Err reports the failure
// that stopped the source; it stays nil while lines can still arrive.
type LineSource interface {
	Open() error
	Close() error
	Drain() []string
	Err() error
}

// LineFramer cuts a byte stream into lines. A line ends at '\n' (dropped) or
// when maxLen bytes are buffered; an over-long line is emitted in pieces.
type LineFramer struct {
	buf    []byte
	maxLen int
}

func NewLineFramer(maxLen int) *LineFramer {
	if maxLen <= 0 {
		maxLen = DEFAULT_MAX_LINE_LENGTH
	}
	return &LineFramer{
		buf:    make([]byte, 0, maxLen),
		maxLen: maxLen,
	}
}

func (f *LineFramer) Feed(data []byte) []string {
	var lines []string
	for _, b := range data {
		if b == '\n' {
			lines = append(lines, string(f.buf))
			f.buf = f.buf[:0]
			continue
		}
		f.buf = append(f.buf, b)
		if len(f.buf) >= f.maxLen {
			lines = append(lines, string(f.buf))
			f.buf = f.buf[:0]
		}
	}
	return lines
}

// SplitLines frames a whole buffer at once.
func SplitLines(data []byte, maxLen int) []string {
	return NewLineFramer(maxLen).Feed(data)
}

// Serial port

type SerialConfig struct {
	Device        string
	BaudRate      int
	MaxLineLength int
	ReadTimeout   time.Duration
}

// SerialSource reads a VE.Direct port (8N1) in a background goroutine and
// queues the framed lines until they are drained.
type SerialSource struct {
	cfg    SerialConfig
	port   serial.Port
	queue  chan string
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	err    error
	logger *zap.Logger
}

func NewSerialSource(cfg SerialConfig, logger *zap.Logger) *SerialSource {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DEFAULT_BAUD_RATE
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	return &SerialSource{
		cfg:    cfg,
		logger: logger.With(zap.String("device", cfg.Device)),
	}
}

func (s *SerialSource) Open() error {
	port, err := serial.Open(&serial.Config{
		Address:  s.cfg.Device,
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  s.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.cfg.Device, err)
	}
	s.port = port
	s.setErr(nil)
	s.queue = make(chan string, DEFAULT_LINE_QUEUE_SIZE)
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(NewLineFramer(s.cfg.MaxLineLength))
	return nil
}

func (s *SerialSource) readLoop(framer *LineFramer) {
	defer s.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := s.port.Read(buf)
		for _, line := range framer.Feed(buf[:n]) {
			select {
			case s.queue <- line:
			default:
				s.logger.Debug("vedirect: line queue full, dropping line")
			}
		}
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			// EOF on a tty means the device is gone
			s.logger.Error("vedirect: serial read failed", zap.Error(err))
			s.setErr(fmt.Errorf("read serial port %s: %w", s.cfg.Device, err))
			return
		}
	}
}

func (s *SerialSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *SerialSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SerialSource) Drain() []string {
	var lines []string
	for {
		select {
		case line := <-s.queue:
			lines = append(lines, line)
		default:
			return lines
		}
	}
}

func (s *SerialSource) Close() error {
	if s.port == nil {
		return nil
	}
	close(s.done)
	err := s.port.Close()
	s.wg.Wait()
	s.port = nil
	return err
}

// Replay file

// ReplaySource plays back a captured VE.Direct text log, one block (up to and
// including its Checksum line) per Drain.
type ReplaySource struct {
	path          string
	maxLineLength int
	lines         []string
	pos           int
}

func NewReplaySource(path string, maxLineLength int) *ReplaySource {
	return &ReplaySource{path: path, maxLineLength: maxLineLength}
}

func (s *ReplaySource) Open() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("open replay file %s: %w", s.path, err)
	}
	s.lines = SplitLines(data, s.maxLineLength)
	s.pos = 0
	return nil
}

func (s *ReplaySource) Drain() []string {
	var block []string
	for s.pos < len(s.lines) {
		line := s.lines[s.pos]
		s.pos++
		block = append(block, line)
		if strings.HasPrefix(line, CHECKSUM_FIELD+"\t") {
			break
		}
	}
	return block
}

func (s *ReplaySource) Close() error {
	s.lines = nil
	return nil
}

// Err is always nil: the end of the capture is not a failure.
func (s *ReplaySource) Err() error {
	return nil
}

// In memory

// TestSource is an in-memory LineSource for tests and dry runs.
type TestSource struct {
	mu      sync.Mutex
	lines   []string
	opened  bool
	opens   int
	readErr error
	OpenErr error
}

func NewTestSource(lines ...string) *TestSource {
	return &TestSource{lines: lines}
}

func (s *TestSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.opened = true
	s.opens++
	s.readErr = nil
	return nil
}

// Fail makes the source behave like a port that stopped reading, until the
// next Open.
func (s *TestSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *TestSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

// Opens counts successful Open calls.
func (s *TestSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *TestSource) Push(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
}

func (s *TestSource) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.readErr != nil {
		return nil
	}
	lines := s.lines
	s.lines = nil
	return lines
}

func (s *TestSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// ensure interface compliance
var _ LineSource = (*SerialSource)(nil)
var _ LineSource = (*ReplaySource)(nil)
var _ LineSource = (*TestSource)(nil)
var _ LineSource = (*ReplaySource)(nil)
var _ LineSource = (*TestSource)(nil)
