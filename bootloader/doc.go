// Package bootloader provides a high-level API for sending firmware to a
// device bootloader over the OTA wire protocol.
//
// # Overview
//
// A session runs the complete transfer sequence:
//   - Building a 76-byte manifest with version, payload size and target address
//   - Encrypting the firmware with an AEAD in stream mode
//   - Streaming the ciphertext in chunks, each acknowledged by the device
//   - Sending the ciphertext digest and waiting for the final acknowledgment
//
// # Basic Usage
//
//	prog := bootloader.New(transport.Serial("/dev/ttyUSB0", 115200),
//	    bootloader.WithKey(key),
//	)
//
//	out, err := prog.Program(context.Background(), fw, 0x08008000)
//	if err != nil {
//	    log.Fatalf("%s: %v", out, err)
//	}
//
// # Progress Tracking
//
//	prog := bootloader.New(open,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - chunk %d/%d\n",
//	            p.Phase, p.Percentage, p.Chunk, p.TotalChunks)
//	    }),
//	)
//
// # Configuration Options
//
//	prog := bootloader.New(open,
//	    bootloader.WithKey(key),
//	    bootloader.WithDerivedNonce(),
//	    bootloader.WithVersion(v),
//	    bootloader.WithChunkSize(256),
//	    bootloader.WithMaxAttempts(3),
//	    bootloader.WithReadTimeout(time.Second),
//	    bootloader.WithSigner(signer),
//	    bootloader.WithLogger(slog.Default()),
//	)
//
// # Nonces
//
// By default the payload is encrypted under payload.ReferenceNonce, the fixed
// nonce existing devices expect. Every image sent under one key then shares a
// keystream, so the programmer logs a warning on each session. Devices that
// can derive the nonce from the manifest version should be paired with
// WithDerivedNonce.
//
// # Error Handling
//
// Program returns an Outcome together with a typed error:
//   - ConfigError: invalid inputs; the channel is never opened
//   - transport.ChannelError: the channel failed to open, write or read
//   - transport.RejectedError: the manifest or a chunk was not accepted
//   - VerificationError: the device did not accept the final digest
//
// Outcome.Status tells these apart without inspecting the error, and for a
// failed chunk Outcome.Offset gives its position in the payload.
//
// # Hardware Independence
//
// The programmer talks to a transport.Channel obtained from a
// transport.OpenFunc. Serial ports and TCP bridges are provided by the
// transport package; tests use otatest.Device.
package bootloader
