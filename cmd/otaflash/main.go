// Command otaflash sends a firmware image to a device bootloader over a
// serial port or a serial-over-TCP bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cheggaaa/pb/v3"
	"hermannm.dev/devlog"

	"github.com/moffa90/go-ota/bootloader"
	"github.com/moffa90/go-ota/firmware"
	"github.com/moffa90/go-ota/internal/config"
	"github.com/moffa90/go-ota/protocol"
	"github.com/moffa90/go-ota/transport"
)

const title = "Encrypted firmware transfer to a device bootloader"

// Exit codes.
const (
	exitOK                 = 0
	exitError              = 1
	exitVerificationFailed = 2
)

var level slog.LevelVar

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{
		Level: &level,
	})))
}

type flags struct {
	file        *string
	address     *string
	port        *string
	baud        *int
	config      *string
	key         *string
	nonce       *string
	deriveNonce *bool
	chunkSize   *int
	retries     *int
	timeout     *string
	settle      *string
	fwVersion   *string
	suite       *string
	digest      *string
	signKey     *string
	dscp        *int
	noRetry     *bool
	list        *bool
	verbose     *bool
}

func main() {
	os.Exit(run())
}

func run() int {
	args := argparse.NewParser("otaflash", title)

	f := flags{
		file:        args.String("f", "file", &argparse.Options{Help: "Firmware image (.bin or .hex)"}),
		address:     args.String("a", "address", &argparse.Options{Help: "Target flash address, e.g. 0x08008000"}),
		port:        args.String("p", "port", &argparse.Options{Help: "Serial port or tcp://host:port"}),
		baud:        args.Int("b", "baud", &argparse.Options{Help: "Baud rate (default " + strconv.Itoa(config.DefaultBaud) + ")"}),
		config:      args.String("c", "config", &argparse.Options{Help: "YAML configuration file"}),
		key:         args.String("k", "key", &argparse.Options{Help: "Payload key, hex (16, 24 or 32 bytes)"}),
		nonce:       args.String("n", "nonce", &argparse.Options{Help: "Payload nonce, hex (12 bytes)"}),
		deriveNonce: args.Flag("", "derive-nonce", &argparse.Options{Help: "Derive the nonce from key and version"}),
		chunkSize:   args.Int("s", "chunk-size", &argparse.Options{Help: "Chunk size in bytes (default 256)"}),
		retries:     args.Int("r", "retries", &argparse.Options{Help: "Attempts per unit (default 3)"}),
		timeout:     args.String("t", "timeout", &argparse.Options{Help: "Response timeout, e.g. 1s"}),
		settle:      args.String("", "settle", &argparse.Options{Help: "Wait after opening the port, e.g. 2s"}),
		fwVersion:   args.String("V", "fw-version", &argparse.Options{Help: "Firmware version, integer or semver"}),
		suite:       args.String("", "suite", &argparse.Options{Help: "Cipher: aes-gcm or chacha20-poly1305"}),
		digest:      args.String("", "digest", &argparse.Options{Help: "Digest: sha256 or blake2b-256"}),
		signKey:     args.String("", "sign-key", &argparse.Options{Help: "Ed25519 seed file, hex"}),
		dscp:        args.Int("d", "dscp", &argparse.Options{Help: "DSCP field for TCP bridges"}),
		noRetry:     args.Flag("", "no-verify-retry", &argparse.Options{Help: "Send the digest unit once"}),
		list:        args.Flag("l", "list", &argparse.Options{Help: "List serial ports and exit"}),
		verbose:     args.Flag("v", "verbose", &argparse.Options{Help: "Debug logging"}),
	}

	if err := args.Parse(os.Args); err != nil {
		fmt.Print(args.Usage(err))
		return exitError
	}

	if *f.verbose {
		level.Set(slog.LevelDebug)
	}

	if *f.list {
		return listPorts()
	}

	cfg, err := loadConfig(f)
	if err != nil {
		slog.Error("configuration", "error", err)
		return exitError
	}

	if *f.file == "" {
		fmt.Print(args.Usage("a firmware file is required"))
		return exitError
	}
	img, err := firmware.Load(*f.file)
	if err != nil {
		slog.Error("load firmware", "file", *f.file, "error", err)
		return exitError
	}

	addr, err := targetAddress(f, cfg, img)
	if err != nil {
		slog.Error("target address", "error", err)
		return exitError
	}

	opts, err := cfg.Options()
	if err != nil {
		slog.Error("configuration", "error", err)
		return exitError
	}

	bar := newProgressBar()
	opts = append(opts,
		bootloader.WithLogger(slog.Default()),
		bootloader.WithProgressCallback(bar.update),
	)

	slog.Info("sending firmware",
		"file", *f.file,
		"format", img.Format.String(),
		"size", img.Size(),
		"address", fmt.Sprintf("0x%08X", addr),
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prog := bootloader.New(cfg.Open(), opts...)
	out, err := prog.Program(ctx, img.Data, addr)
	bar.finish()

	if err != nil {
		slog.Error("transfer failed", "outcome", out.String(), "error", err)
		if errors.Is(err, bootloader.ErrVerificationFailed) {
			return exitVerificationFailed
		}
		return exitError
	}

	slog.Info("transfer complete",
		"bytes", out.BytesSent,
		"digest", fmt.Sprintf("%x", out.Digest),
		"elapsed", out.Elapsed.Round(time.Millisecond).String(),
	)
	return exitOK
}

// loadConfig reads the configuration file, if any, and applies explicit flags
// over it.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if *f.config != "" {
		var err error
		if cfg, err = config.Load(*f.config); err != nil {
			return nil, err
		}
	}

	setString(&cfg.Port, *f.port)
	setString(&cfg.Address, *f.address)
	setString(&cfg.Key, *f.key)
	setString(&cfg.Nonce, *f.nonce)
	setString(&cfg.Suite, *f.suite)
	setString(&cfg.Digest, *f.digest)
	setString(&cfg.Version, *f.fwVersion)
	setString(&cfg.SignKey, *f.signKey)
	setInt(&cfg.Baud, *f.baud)
	setInt(&cfg.ChunkSize, *f.chunkSize)
	setInt(&cfg.Retries, *f.retries)
	setInt(&cfg.DSCP, *f.dscp)

	if *f.deriveNonce {
		cfg.DeriveNonce = true
		cfg.Nonce = ""
	}
	if *f.noRetry {
		retry := false
		cfg.RetryVerification = &retry
	}
	if err := setDuration(&cfg.Timeout, *f.timeout); err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	if err := setDuration(&cfg.SettleDelay, *f.settle); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}

	return cfg, cfg.Validate()
}

// targetAddress prefers the -a flag, then the address carried by a HEX image,
// then the configured address.
func targetAddress(f flags, cfg *config.Config, img *firmware.Image) (uint64, error) {
	if *f.address == "" && img.HasAddress {
		return uint64(img.BaseAddress), nil
	}
	return cfg.TargetAddress()
}

func listPorts() int {
	ports, err := transport.Ports()
	if err != nil {
		slog.Error("list ports", "error", err)
		return exitError
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return exitOK
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return exitOK
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// progressBar renders payload progress on stderr.
type progressBar struct {
	bar *pb.ProgressBar
}

func newProgressBar() *progressBar {
	return &progressBar{}
}

func (b *progressBar) update(p bootloader.Progress) {
	switch p.Phase {
	case bootloader.PhaseManifest:
		slog.Debug("sending manifest", "chunks", p.TotalChunks, "protocol", protocol.ProtocolVersion)
	case bootloader.PhasePayload:
		if b.bar == nil {
			b.bar = pb.Full.New(p.TotalBytes).
				Set(pb.Bytes, true).
				SetWriter(os.Stderr).
				Start()
		}
		b.bar.SetCurrent(int64(p.BytesSent))
	case bootloader.PhaseVerifying:
		b.finish()
		slog.Info("waiting for device verification")
	}
}

func (b *progressBar) finish() {
	if b.bar != nil {
		b.bar.Finish()
		b.bar = nil
	}
}
