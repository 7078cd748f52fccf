package transport

// Chunk is one contiguous slice of the ciphertext payload.
type Chunk struct {
	// Index is the zero-based position of the chunk in the stream
	Index int

	// Offset is the position of the first byte in the payload
	Offset int

	// Data aliases the payload; it must not be modified
	Data []byte
}

// Split divides payload into ceil(len/size) chunks. Every chunk but the last is
// exactly size bytes. An empty payload yields no chunks; size must be positive.
func Split(payload []byte, size int) []Chunk {
	if size <= 0 {
		panic("transport: chunk size must be positive")
	}

	chunks := make([]Chunk, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: off,
			Data:   payload[off:end:end],
		})
	}
	return chunks
}
