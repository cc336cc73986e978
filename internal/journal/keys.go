package journal

import (
	"fmt"
	"strconv"
)

// keys: o:<order id>, a:<20-digit arrival seq>, t:<20-digit trade seq>
var (
	orderPrefix   = []byte("o:")
	arrivalPrefix = []byte("a:")
	tradePrefix   = []byte("t:")
)

func orderKey(id string) []byte    { return append([]byte("o:"), id...) }
func arrivalKey(seq uint64) []byte { return []byte(fmt.Sprintf("a:%020d", seq)) }
func tradeKey(seq uint64) []byte   { return []byte(fmt.Sprintf("t:%020d", seq)) }

func parseSeq(key, prefix []byte) (uint64, error) {
	return strconv.ParseUint(string(key[len(prefix):]), 10, 64)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
