package migrate

// Logical key names for the three record generations, the derived indexes,
// and the engine's own bookkeeping. Generation 1 wrote its JSON blob at the
// bare post id; the v1-to-v2 migration of that era sometimes rewrote the
// bare key as a hash in place, which the detector handles.
const (
	fieldType   = "type"
	typeDrawing = "drawing"

	globalIndexKey = "posts:all"

	ledgerSkippedKey   = "migration:skipped"
	ledgerFailedKey    = "migration:failed"
	ledgerSucceededKey = "migration:succeeded"
)

func postKey(id string) string      { return "post:" + id }
func drawingV2Key(id string) string { return "drawing:" + id }
func v1Key(id string) string        { return id }

func wordIndexKey(normalizedWord string) string { return "words:" + normalizedWord }
func authorIndexKey(authorID string) string     { return "user-posts:" + authorID }

func galleryKey(authorID string) string { return "gallery:" + authorID }
func galleryMember(id string) string    { return "d:" + id }
func galleryItemKey(member string) string {
	return "gallery-item:" + member
}

func lockKey(id string) string { return "lock:migrate:" + id }
