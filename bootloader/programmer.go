package bootloader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/moffa90/go-ota/payload"
	"github.com/moffa90/go-ota/protocol"
	"github.com/moffa90/go-ota/transport"
)

// Programmer runs firmware transfer sessions against a device bootloader.
// It handles manifest framing, payload encryption, chunk delivery and the
// final digest handshake.
//
// Programmer holds no per-session state; sessions on distinct channels may
// run concurrently.
type Programmer struct {
	open   transport.OpenFunc
	config Config
}

// New creates a new Programmer. open is called once at the start of every
// session and the channel it returns is closed when the session ends.
//
// Example:
//
//	prog := bootloader.New(transport.Serial("/dev/ttyUSB0", 115200),
//	    bootloader.WithKey(key),
//	    bootloader.WithProgressCallback(progressFunc),
//	)
func New(open transport.OpenFunc, opts ...Option) *Programmer {
	if open == nil {
		panic("open cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		open:   open,
		config: cfg,
	}
}

// Config returns a copy of the programmer configuration.
func (p *Programmer) Config() Config {
	return p.config
}

// session is everything computed before the channel is opened.
type session struct {
	manifest   []byte
	ciphertext []byte
	digest     [payload.DigestSize]byte
}

// Program performs one complete transfer session:
//  1. Build the manifest and encrypt the firmware
//  2. Open the channel and wait for the device to settle
//  3. Send the manifest
//  4. Stream the ciphertext in chunks
//  5. Send the ciphertext digest and wait for the device to accept it
//
// Every unit is retried up to the configured attempt limit. The first unit
// that is not accepted ends the session: nothing further is sent and the
// channel is closed. The returned Outcome says where the session stopped; the
// error is nil only on success.
//
// The AEAD tag is not transmitted. Without a signer the digest unit proves
// the transfer was intact, not who produced the image.
//
// Example:
//
//	out, err := prog.Program(ctx, fw, 0x08008000)
//	if err != nil {
//	    log.Fatalf("%s: %v", out, err)
//	}
func (p *Programmer) Program(ctx context.Context, fw []byte, targetAddress uint64) (Outcome, error) {
	startTime := time.Now()
	out := Outcome{Stage: StageStart}

	s, err := p.prepare(fw, targetAddress)
	if err != nil {
		return p.abort(out, startTime, StatusAborted, err)
	}
	out.Digest = s.digest

	ch, err := p.open()
	if err != nil {
		return p.abort(out, startTime, StatusAborted, &transport.ChannelError{Op: "open", Err: err})
	}
	defer func() {
		if err := ch.Close(); err != nil {
			p.logWarn("close channel", "error", err)
		}
	}()

	if err := p.settle(ctx); err != nil {
		return p.abort(out, startTime, StatusAborted, fmt.Errorf("settle: %w", err))
	}

	sender := transport.NewSender(ch,
		transport.WithMaxAttempts(p.config.MaxAttempts),
		transport.WithReadTimeout(p.config.ReadTimeout),
		transport.WithStateHook(p.observe),
	)

	totalChunks := len(transport.Split(s.ciphertext, p.config.ChunkSize))

	// Phase 1: Manifest
	p.reportProgress(Progress{
		Phase:       PhaseManifest,
		TotalChunks: totalChunks,
		TotalBytes:  len(s.ciphertext),
	})

	if err := sender.Send(ctx, transport.ManifestUnit(s.manifest)); err != nil {
		status := StatusAborted
		if errors.Is(err, transport.ErrRejected) {
			status = StatusManifestRejected
		}
		return p.abort(out, startTime, status, fmt.Errorf("send manifest: %w", err))
	}
	out.Stage = StageManifestSent
	p.logDebug("manifest accepted",
		"version", p.config.Version,
		"semver", protocol.FormatVersion(p.config.Version),
	)

	// Phase 2: Payload (2% to 95%)
	err = sender.Stream(ctx, s.ciphertext, p.config.ChunkSize, func(tp transport.Progress) {
		out.BytesSent = tp.BytesSent
		p.reportProgress(Progress{
			Phase:       PhasePayload,
			Chunk:       tp.Chunk,
			TotalChunks: tp.TotalChunks,
			BytesSent:   tp.BytesSent,
			TotalBytes:  tp.TotalBytes,
			Percentage:  2 + float64(tp.BytesSent)/float64(tp.TotalBytes)*93,
			ElapsedTime: time.Since(startTime),
		})
	})
	if err != nil {
		var rej *transport.RejectedError
		if errors.As(err, &rej) {
			out.Offset = rej.Offset
			out.Index = rej.Index
			return p.abort(out, startTime, StatusChunkFailed,
				fmt.Errorf("send chunk %d at offset %d: %w", rej.Index, rej.Offset, err))
		}
		return p.abort(out, startTime, StatusAborted, fmt.Errorf("send payload: %w", err))
	}
	out.Stage = StagePayloadSent

	// Phase 3: Verify
	p.reportProgress(Progress{
		Phase:       PhaseVerifying,
		Chunk:       totalChunks,
		TotalChunks: totalChunks,
		BytesSent:   len(s.ciphertext),
		TotalBytes:  len(s.ciphertext),
		Percentage:  95,
		ElapsedTime: time.Since(startTime),
	})

	send := sender.Send
	if !p.config.RetryVerification {
		send = sender.SendOnce
	}
	if err := send(ctx, transport.DigestUnit(s.digest[:])); err != nil {
		var rej *transport.RejectedError
		if errors.As(err, &rej) {
			return p.abort(out, startTime, StatusVerificationFailed, &VerificationError{
				Attempts:     rej.Attempts,
				LastResponse: rej.LastResponse,
				TimedOut:     rej.TimedOut,
				Err:          rej,
			})
		}
		return p.abort(out, startTime, StatusAborted, fmt.Errorf("send digest: %w", err))
	}

	out.Stage = StageVerified
	out.Status = StatusSuccess
	out.Elapsed = time.Since(startTime)

	// Complete
	p.reportProgress(Progress{
		Phase:       PhaseComplete,
		Chunk:       totalChunks,
		TotalChunks: totalChunks,
		BytesSent:   out.BytesSent,
		TotalBytes:  len(s.ciphertext),
		Percentage:  100,
		ElapsedTime: out.Elapsed,
	})

	p.logInfo("transfer complete",
		"chunks", totalChunks,
		"bytes", out.BytesSent,
		"elapsed", out.Elapsed.String(),
	)

	return out, nil
}

// prepare validates the configuration and builds every unit of the session.
func (p *Programmer) prepare(fw []byte, targetAddress uint64) (*session, error) {
	cfg := p.config

	if len(fw) == 0 {
		return nil, &ConfigError{Field: "firmware", Reason: "image is empty"}
	}
	if cfg.ChunkSize < 1 || cfg.ChunkSize > protocol.MaxChunkSize {
		return nil, &ConfigError{
			Field:  "chunk size",
			Reason: fmt.Sprintf("%d is outside 1..%d", cfg.ChunkSize, protocol.MaxChunkSize),
		}
	}
	if cfg.MaxAttempts < 1 {
		return nil, &ConfigError{Field: "max attempts", Reason: fmt.Sprintf("%d is less than 1", cfg.MaxAttempts)}
	}
	if cfg.ReadTimeout <= 0 {
		return nil, &ConfigError{Field: "read timeout", Reason: "must be positive"}
	}
	if len(cfg.Key) == 0 {
		return nil, &ConfigError{Field: "key", Reason: "no payload key configured"}
	}
	if sizes := cfg.Suite.KeySizes(); !slices.Contains(sizes, len(cfg.Key)) {
		return nil, &ConfigError{
			Field:  "key",
			Reason: fmt.Sprintf("%s needs a key of %v bytes, got %d", cfg.Suite, sizes, len(cfg.Key)),
		}
	}

	nonce, err := p.nonce()
	if err != nil {
		return nil, err
	}

	m, err := protocol.NewManifest(cfg.Version, len(fw), targetAddress)
	if err != nil {
		return nil, &ConfigError{Field: "manifest", Reason: err.Error(), Err: err}
	}

	sealed, err := payload.Encrypt(cfg.Suite, cfg.Key, nonce, fw)
	if err != nil {
		return nil, &ConfigError{Field: "key", Reason: err.Error(), Err: err}
	}

	s := &session{
		ciphertext: sealed.Ciphertext,
		digest:     payload.Digest(cfg.Digest, sealed.Ciphertext),
	}

	if cfg.Signer != nil {
		sig, err := cfg.Signer.Sign(m.SigningMessage(s.digest[:], sealed.Tag))
		if err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
		if err := m.SetSignature(sig); err != nil {
			return nil, &ConfigError{Field: "signer", Reason: err.Error(), Err: err}
		}
	}

	s.manifest, err = m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	p.logDebug("session prepared",
		"payload_size", len(fw),
		"target_address", fmt.Sprintf("0x%08X", targetAddress),
		"suite", cfg.Suite.String(),
		"digest", cfg.Digest.String(),
		"signed", m.Signed(),
	)

	return s, nil
}

// nonce resolves the payload nonce for this session.
func (p *Programmer) nonce() ([]byte, error) {
	if p.config.DeriveNonce {
		n, err := payload.DeriveNonce(p.config.Key, p.config.Version)
		if err != nil {
			return nil, &ConfigError{Field: "nonce", Reason: err.Error(), Err: err}
		}
		return n, nil
	}

	n := p.config.Nonce
	if n == nil {
		n = payload.ReferenceNonce
	}
	if len(n) != payload.NonceSize {
		return nil, &ConfigError{
			Field:  "nonce",
			Reason: fmt.Sprintf("must be exactly %d bytes, got %d", payload.NonceSize, len(n)),
		}
	}

	p.logWarn("static payload nonce in use; every image encrypted under this key shares a keystream",
		"nonce", fmt.Sprintf("%x", n))
	return n, nil
}

func (p *Programmer) settle(ctx context.Context) error {
	if p.config.SettleDelay <= 0 {
		return nil
	}

	t := time.NewTimer(p.config.SettleDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// abort finishes a failed session.
func (p *Programmer) abort(out Outcome, startTime time.Time, status Status, err error) (Outcome, error) {
	out.Status = status
	out.FailedAt = out.Stage
	out.Stage = StageAborted
	out.Elapsed = time.Since(startTime)

	p.logError("transfer failed",
		"status", status.String(),
		"stage", out.FailedAt.String(),
		"error", err,
	)
	return out, err
}

// observe logs unit-level transitions reported by the sender.
func (p *Programmer) observe(u transport.Unit, st transport.State, attempt int) {
	switch st {
	case transport.StateNacked, transport.StateTimedOut:
		if attempt < p.attemptLimit(u.Kind) {
			p.logWarn("unit not acknowledged, retrying",
				"unit", u.Kind.String(),
				"index", u.Index,
				"offset", u.Offset,
				"attempt", attempt,
				"state", st.String(),
			)
		}
	case transport.StateAcked:
		if attempt > 1 {
			p.logDebug("unit acknowledged after retry", "unit", u.Kind.String(), "index", u.Index, "attempt", attempt)
		}
	}
}

// attemptLimit is the number of times a unit of kind k is sent before the
// session gives up on it.
func (p *Programmer) attemptLimit(k protocol.UnitKind) int {
	if k == protocol.UnitDigest && !p.config.RetryVerification {
		return 1
	}
	return p.config.MaxAttempts
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(progress Progress) {
	if p.config.ProgressCallback != nil {
		p.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (p *Programmer) logDebug(msg string, keysAndValues ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (p *Programmer) logInfo(msg string, keysAndValues ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Info(msg, keysAndValues...)
	}
}

func (p *Programmer) logWarn(msg string, keysAndValues ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (p *Programmer) logError(msg string, keysAndValues ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Error(msg, keysAndValues...)
	}
}
