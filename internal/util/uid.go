package util

import (
	"fmt"
	"hash/fnv"
)

// uidRoot is the organisation root used for generated UIDs.
const uidRoot = "1.2.826.0.1.3680043.8.498"

// GenerateDeterministicUID derives a DICOM UID from seed. The same seed always
// yields the same UID, and the result stays under the 64 character UID limit.
func GenerateDeterministicUID(seed string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return fmt.Sprintf("%s.%d", uidRoot, h.Sum64())
}
