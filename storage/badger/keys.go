package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/trendwire/core"
)

// Key prefixes for different data types
const (
	documentPrefix         = "doc:"
	documentDatePrefix     = "docd:"
	documentCategoryPrefix = "docc:"
	embeddingPrefix        = "emb:"
	subscriptionPrefix     = "sub:"
	receiptPrefix          = "rcpt:"
	reportPrefix           = "rep:"
	taskPrefix             = "task:"
	taskKeyPrefix          = "taskk:"
)

// appendTime writes t as 8 big-endian bytes. The sign bit is flipped so
// timestamps before 1970 still sort before later ones.
func appendTime(buf []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(t.UnixMicro())^(1<<63))
}

func readTime(buf []byte) time.Time {
	return time.UnixMicro(int64(binary.BigEndian.Uint64(buf) ^ (1 << 63))).UTC()
}

// makeDocumentKey generates a key for a document by fingerprint.
func makeDocumentKey(fp core.Fingerprint) []byte {
	return append([]byte(documentPrefix), fp...)
}

// makeDocumentDateKey generates a composite key for the publication date index.
// Format: prefix|timestamp|fingerprint
func makeDocumentDateKey(published time.Time, fp core.Fingerprint) []byte {
	buf := make([]byte, 0, len(documentDatePrefix)+8+len(fp))
	buf = append(buf, documentDatePrefix...)
	buf = appendTime(buf, published)
	return append(buf, fp...)
}

// makePartialDocumentDateKey generates a partial key for date range queries.
func makePartialDocumentDateKey(t time.Time) []byte {
	return appendTime([]byte(documentDatePrefix), t)
}

// makeDocumentCategoryPrefix returns the index prefix for one category.
// Format: prefix|category|0x00
func makeDocumentCategoryPrefix(category string) []byte {
	buf := make([]byte, 0, len(documentCategoryPrefix)+len(category)+1)
	buf = append(buf, documentCategoryPrefix...)
	buf = append(buf, category...)
	return append(buf, 0)
}

// makeDocumentCategoryKey generates a composite key for the category index.
// Format: prefix|category|0x00|timestamp|fingerprint
func makeDocumentCategoryKey(category string, published time.Time, fp core.Fingerprint) []byte {
	buf := appendTime(makeDocumentCategoryPrefix(category), published)
	return append(buf, fp...)
}

// makeEmbeddingKey generates a key for a vector by fingerprint.
func makeEmbeddingKey(fp core.Fingerprint) []byte {
	return append([]byte(embeddingPrefix), fp...)
}

// makeSubscriptionKey generates a key for a subscription by subscriber id.
func makeSubscriptionKey(subscriberID string) []byte {
	return append([]byte(subscriptionPrefix), subscriberID...)
}

// makeReceiptPrefix returns the prefix for all receipts of one delivery period.
// Format: prefix|subscriber|0x00|periodStart|0x00
func makeReceiptPrefix(subscriberID string, periodStart time.Time) []byte {
	buf := make([]byte, 0, len(receiptPrefix)+len(subscriberID)+10)
	buf = append(buf, receiptPrefix...)
	buf = append(buf, subscriberID...)
	buf = append(buf, 0)
	buf = appendTime(buf, periodStart)
	return append(buf, 0)
}

// makeReceiptKey generates a key for one delivered category.
func makeReceiptKey(subscriberID string, periodStart time.Time, category string) []byte {
	return append(makeReceiptPrefix(subscriberID, periodStart), category...)
}

// makeReportKey generates a key for a report by request id.
func makeReportKey(requestID string) []byte {
	return append([]byte(reportPrefix), requestID...)
}

// makeTaskKey generates a key for a task by id.
func makeTaskKey(id string) []byte {
	return append([]byte(taskPrefix), id...)
}

// makeTaskIdempotenceKey generates the lookup key mapping an idempotence key to a task id.
func makeTaskIdempotenceKey(key string) []byte {
	return append([]byte(taskKeyPrefix), key...)
}
