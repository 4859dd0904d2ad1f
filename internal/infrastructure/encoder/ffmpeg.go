package encoder

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"wearlink/internal/codec"
	"wearlink/internal/core/domain"
)

// FFmpegAAC encodes PCM16 to raw AAC-LC frames by piping through an
// ffmpeg child process in low-latency ADTS mode, then stripping the ADTS
// headers (the engine re-frames with its own bit-exact headers).
//
// Encode is asynchronous by nature: a PCM write may yield zero frames
// (still buffered inside ffmpeg) and a later write may yield several.
type FFmpegAAC struct {
	logger *zap.SugaredLogger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	pending [][]byte
	tail    []byte
	readErr error

	done chan struct{}
}

// NewFFmpegAAC starts the ffmpeg encoder process for the given format.
func NewFFmpegAAC(sampleRate, channels, bitRate int, logger *zap.SugaredLogger) (*FFmpegAAC, error) {
	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(bitRate),
		"-profile:a", "aac_low",
		"-f", "adts",
		"-flush_packets", "1",
		"-fflags", "+flush_packets+nobuffer",
		"-max_delay", "0",
		"-avioflags", "direct",
		"pipe:1",
	}

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, err)
	}

	e := &FFmpegAAC{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		done:   make(chan struct{}),
	}
	go e.drain(stdout)
	return e, nil
}

// drain reads the ADTS stream off ffmpeg stdout and splits it into raw
// frames as bytes arrive.
func (e *FFmpegAAC) drain(stdout io.Reader) {
	defer close(e.done)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			stream := append(e.tail, buf[:n]...)
			frames, rest := codec.SplitADTS(stream)
			e.pending = append(e.pending, frames...)
			e.tail = rest
			e.mu.Unlock()
		}
		if err != nil {
			e.mu.Lock()
			if err != io.EOF {
				e.readErr = err
			}
			e.mu.Unlock()
			return
		}
	}
}

// Encode feeds one PCM buffer in and returns whatever complete AAC
// frames the encoder has produced so far.
func (e *FFmpegAAC) Encode(pcm []int16) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, domain.ErrEmptyChunk
	}

	if _, err := e.stdin.Write(codec.Int16ToBytes(pcm)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoderUnavailable, e.readErr)
	}
	frames := e.pending
	e.pending = nil
	return frames, nil
}

// Close shuts the encoder down and reaps the child process.
func (e *FFmpegAAC) Close() error {
	_ = e.stdin.Close()
	<-e.done
	if err := e.cmd.Wait(); err != nil {
		if e.logger != nil {
			e.logger.Debugw("ffmpeg exited uncleanly", "error", err)
		}
		return err
	}
	return nil
}
