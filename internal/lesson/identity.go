package lesson

import (
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// AugmentationID is the stable identity of a fired augmentation: the same
// lesson, rule, objective and asset always hash to the same ID, so re-planning
// recognises augmentations that were already served.
func AugmentationID(lessonID string, ruleIndex int, objectiveID, assetRef string) string {
	key := strings.Join([]string{lessonID, strconv.Itoa(ruleIndex), objectiveID, assetRef}, "|")
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
