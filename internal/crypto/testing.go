package crypto

import "io"

// SetRandReaderForTesting replaces the source used for salts, nonces and
// keypairs and returns a function restoring the previous one.
func SetRandReaderForTesting(r io.Reader) func() {
	original := randReader
	randReader = r
	return func() { randReader = original }
}
