package util

import (
	"fmt"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
	gstr "github.com/savsgio/gotils/strconv"
)

// Hash returns an xxhash hex digest over the formatted values. Used for
// schema fingerprints and deterministic seeds, so the output format must
// stay stable.
func Hash(vals ...any) string {
	h := xxhash.New()
	for _, v := range vals {
		h.Write(gstr.S2B(fmt.Sprintf("%+v", v)))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Modulo maps value onto [0,num) using a stable fnv-32a hash.
func Modulo(value string, num int) int {
	hasher := fnv.New32a()
	hasher.Write(gstr.S2B(value))
	partition := int(hasher.Sum32()) % num
	if partition < 0 {
		return -partition
	}
	return partition
}
