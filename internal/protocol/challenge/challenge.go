// Package challenge computes the QRY response to a server CHL nonce.
//
// The response is a pure function of the nonce and a product id/key pair:
// an MD5 digest keyed by the product key seeds a 31-bit modular mixing pass
// over the nonce+product id, and the derived 64-bit key is folded back into
// the digest.
package challenge

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	ProductKey = "O4BG@C7BWLYQX?5G"
	ProductID  = "PROD01065C%ZFN6F"

	magic   = 0x0E79A9C1
	modulus = 0x7FFFFFFF
)

// Respond returns the 32 hex character response for nonce using the
// client's registered product pair.
func Respond(nonce string) string {
	return RespondWith(nonce, ProductID, ProductKey)
}

// RespondWith is Respond for an arbitrary product id/key pair.
func RespondWith(nonce, productID, productKey string) string {
	digest := md5.Sum([]byte(nonce + productKey))

	var k [4]int64
	for i := range k {
		k[i] = int64(binary.LittleEndian.Uint32(digest[i*4:]) & 0x7FFFFFFF)
	}

	data := []byte(nonce + productID)
	// Always appends 1..8 ASCII '0' bytes, never NULs.
	pad := 8 - len(data)%8
	for i := 0; i < pad; i++ {
		data = append(data, '0')
	}
	words := make([]int64, len(data)/4)
	for i := range words {
		words[i] = int64(int32(binary.LittleEndian.Uint32(data[i*4:])))
	}

	var high, low int64
	for i := 0; i+1 < len(words); i += 2 {
		t := mod(magic*words[i]) + high
		t = mod(k[0]*t + k[1])

		high = mod(words[i+1] + t)
		high = mod(k[2]*high + k[3])

		low += high + t
	}

	hi := uint64(bits.ReverseBytes32(uint32(mod(high + k[1]))))
	lo := uint64(bits.ReverseBytes32(uint32(mod(low + k[3]))))
	key := bits.ReverseBytes64(hi<<32 | lo)

	out := ""
	for _, off := range []int{0, 8} {
		v := bits.ReverseBytes64(binary.BigEndian.Uint64(digest[off:]))
		v = bits.ReverseBytes64(v ^ key)
		out += fmt.Sprintf("%016x", v)
	}
	return out
}

// mod is a floored modulo so negative words (bytes >= 0x80) land in [0, modulus).
func mod(v int64) int64 {
	r := v % modulus
	if r < 0 {
		r += modulus
	}
	return r
}
